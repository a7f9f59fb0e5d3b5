package identity

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateDistinct(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if a.Public == b.Public {
		t.Fatal("two generated key pairs share a public key")
	}
}

func TestReadOrGenerateRoundTripUnencrypted(t *testing.T) {
	dir, err := ioutil.TempDir("", "pmail-identity")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "node.key")
	first, err := ReadOrGenerate(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ReadOrGenerate(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Public != second.Public || first.Secret != second.Secret {
		t.Fatal("key pair did not survive a round trip through disk")
	}
}

func TestReadOrGenerateRoundTripEncrypted(t *testing.T) {
	dir, err := ioutil.TempDir("", "pmail-identity")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "node.key")
	passphrase := []byte("correct horse battery staple")
	first, err := ReadOrGenerate(path, passphrase)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ReadOrGenerate(path, passphrase)
	if err != nil {
		t.Fatal(err)
	}
	if first.Public != second.Public || first.Secret != second.Secret {
		t.Fatal("encrypted key pair did not survive a round trip through disk")
	}

	if _, err := decode(mustRead(t, path), []byte("wrong passphrase")); err == nil {
		t.Fatal("expected an error decoding with the wrong passphrase")
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDefaultPathUsesHostnameOrFallback(t *testing.T) {
	path := DefaultPath()
	if filepath.Ext(path) != ".key" {
		t.Fatalf("expected a .key suffix, got %s", path)
	}
	if base := filepath.Base(path); base != ".pmail.key" && !strings.HasPrefix(base, "routing-") {
		t.Fatalf("expected routing-<hostname>.key or .pmail.key, got %s", base)
	}
}
