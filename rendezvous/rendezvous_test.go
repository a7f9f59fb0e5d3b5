package rendezvous

import (
	"path/filepath"
	"testing"

	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/wire"
)

func keyWithPrefix(b byte) identity.PublicKey {
	var k identity.PublicKey
	k[0] = b
	return k
}

func TestSelectMinimizesXORDistanceOnFirst8Bytes(t *testing.T) {
	recipient := keyWithPrefix(0x00)
	candidates := []identity.PublicKey{
		keyWithPrefix(0xff),
		keyWithPrefix(0x01),
		keyWithPrefix(0x10),
	}
	got, ok := Select(candidates, recipient)
	if !ok {
		t.Fatal("expected a selection")
	}
	if got != candidates[1] {
		t.Fatalf("got %x, want %x (minimum XOR distance)", got[:1], candidates[1][:1])
	}
}

func TestSelectEmptyCandidates(t *testing.T) {
	if _, ok := Select(nil, keyWithPrefix(1)); ok {
		t.Fatal("expected no selection from an empty candidate set")
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	recipient := keyWithPrefix(0x42)
	candidates := []identity.PublicKey{keyWithPrefix(0x10), keyWithPrefix(0x99), keyWithPrefix(0x40)}
	a, _ := Select(candidates, recipient)
	b, _ := Select(candidates, recipient)
	if a != b {
		t.Fatal("Select should be deterministic for a fixed candidate set")
	}
}

func TestHandleForwardPleaseThenPickUpWithoutPendingPickup(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "rendezvous.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	self, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	dest := keyWithPrefix(7)
	var msg [wire.USER_MESSAGE_LENGTH]byte
	msg[0] = 9

	reply, err := store.HandleForwardPlease(dest, msg, self)
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Fatal("expected no immediate reply when no pickup is pending")
	}

	if _, ok := store.toForward[dest]; !ok {
		t.Fatal("expected the message to be buffered in to_forward")
	}
}

func TestDuplicateForwardPleaseIsDeduped(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "rendezvous.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	self, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	dest := keyWithPrefix(3)
	var msg [wire.USER_MESSAGE_LENGTH]byte
	msg[0] = 1

	if _, err := store.HandleForwardPlease(dest, msg, self); err != nil {
		t.Fatal(err)
	}
	if _, err := store.HandleForwardPlease(dest, msg, self); err != nil {
		t.Fatal(err)
	}
	if got := store.toForward[dest]; got != msg {
		t.Fatal("buffered message changed unexpectedly on a duplicate store")
	}
}

func TestReopenLoadsPersistedForward(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rendezvous.db")
	self, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	dest := keyWithPrefix(5)
	var msg [wire.USER_MESSAGE_LENGTH]byte
	msg[0] = 77

	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.HandleForwardPlease(dest, msg, self); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if got := reopened.toForward[dest]; got != msg {
		t.Fatal("expected the buffered message to survive a reopen")
	}
}
