package dnscache

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolved.txt")

	c := New(path)
	inserted := map[string]string{
		"a.example": "1.1.1.1",
		"b.example": "2.2.2.2",
		"c.example": "2001:db8::1",
	}
	for d, a := range inserted {
		c.Insert(d, netip.MustParseAddr(a))
	}
	if err := c.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh := New(path)
	if err := fresh.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	for d, a := range inserted {
		got, ok := fresh.Get(d)
		if !ok {
			t.Fatalf("missing %q after reload", d)
		}
		if got != netip.MustParseAddr(a) {
			t.Fatalf("%q = %v, want %v", d, got, a)
		}
	}
}

func TestUnusedEntriesPrunedOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolved.txt")
	seed := "stale.example 9.9.9.9\nkept.example 8.8.8.8\n"
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	// Touch only one of the two loaded entries.
	if _, ok := c.Get("kept.example"); !ok {
		t.Fatal("kept.example not loaded")
	}
	if err := c.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh := New(path)
	if err := fresh.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := fresh.Get("kept.example"); !ok {
		t.Fatal("kept.example dropped, want kept")
	}
	if _, ok := fresh.Get("stale.example"); ok {
		t.Fatal("stale.example survived, want pruned")
	}
}

func TestLoadMissingFile(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "nope.txt"))
	if err := c.Load(); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("len=%d, want=0", c.Len())
	}
}

func TestLoadSkipsUnparsableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolved.txt")
	content := "good.example 1.2.3.4\nbad.example not-an-ip\njusttoken\n\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d, want=1", c.Len())
	}
	if _, ok := c.Get("good.example"); !ok {
		t.Fatal("good.example missing")
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}
	path := filepath.Join(t.TempDir(), "resolved.txt")
	if err := os.WriteFile(path, []byte("a.example 1.1.1.1"), 0o000); err != nil {
		t.Fatal(err)
	}

	c := New(path)
	err := c.Load()
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StoreError, got %T: %v", err, err)
	}
	if se.AppError.Code != "DNS_CACHE_READ_ERROR" {
		t.Fatalf("code=%q", se.AppError.Code)
	}
}

func TestInsertReturnsPrevious(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "resolved.txt"))
	if _, had := c.Insert("a.example", netip.MustParseAddr("1.1.1.1")); had {
		t.Fatal("first insert reported a previous value")
	}
	prev, had := c.Insert("a.example", netip.MustParseAddr("2.2.2.2"))
	if !had || prev != netip.MustParseAddr("1.1.1.1") {
		t.Fatalf("prev=%v had=%v", prev, had)
	}
}
