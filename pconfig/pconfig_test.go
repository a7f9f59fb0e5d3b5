package pconfig

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Port != DefaultPort {
		t.Errorf("got port %d, want %d", c.Port, DefaultPort)
	}
	if c.TickPeriod != DefaultTickPeriod {
		t.Errorf("got tick period %v, want %v", c.TickPeriod, DefaultTickPeriod)
	}
	if len(c.Bootstrap) == 0 {
		t.Error("expected a non-empty default bootstrap list")
	}
}

func TestReadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pmail.toml")
	contents := `
port = 12345
tick_period = "5s"
data_dir = "/tmp/my-pmail"
`
	if err := ioutil.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	c, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != 12345 {
		t.Errorf("got port %d, want 12345", c.Port)
	}
	if c.TickPeriod != 5*time.Second {
		t.Errorf("got tick period %v, want 5s", c.TickPeriod)
	}
	if c.DataDir != "/tmp/my-pmail" {
		t.Errorf("got data dir %q, want /tmp/my-pmail", c.DataDir)
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(os.TempDir(), "does-not-exist.toml")); err == nil {
		t.Fatal("expected an error reading a missing config file")
	}
}
