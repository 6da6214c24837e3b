package publish

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/justVisiting992/subkeeper/internal/store"
)

func decode(t *testing.T, payload string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	return string(raw)
}

func setup(t *testing.T) *Publisher {
	t.Helper()
	dir := t.TempDir()
	p := &Publisher{
		Dir:     store.SubscriptionDir{Root: filepath.Join(dir, "subscriptions")},
		Servers: filepath.Join(dir, "main.txt"),
		Decoy:   []string{"trojan://blocked@127.0.0.1:443#decoy"},
	}
	if err := store.WriteLines(p.Servers, []string{
		"vless://u@h:443?b=2&a=1#X",
		"# maintained by hand",
		"vless://u@h:443?a=1&b=2#Y",
		"trojan://pw@t:443#T",
	}); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPublish(t *testing.T) {
	p := setup(t)
	if _, err := p.Dir.Write("manual_vip", "hand-made"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Dir.Create("bob"); err != nil {
		t.Fatal(err)
	}

	rep, err := p.Publish([]string{"alice", "bob", "../escape"}, map[string]struct{}{"alice": {}})
	if err != nil {
		t.Fatal(err)
	}
	want := Report{Live: 1, Blocked: 1, Created: 1, Updated: 1, Skipped: 1}
	if rep != want {
		t.Errorf("report = %+v, want %+v", rep, want)
	}

	alice, _ := p.Dir.Read("alice")
	if got := decode(t, alice); got != "trojan://blocked@127.0.0.1:443#decoy" {
		t.Errorf("alice should get the decoy, got %q", got)
	}
	bob, _ := p.Dir.Read("bob")
	if got := decode(t, bob); got != "vless://u@h:443?b=2&a=1#X\ntrojan://pw@t:443#T" {
		t.Errorf("bob payload = %q", got)
	}
	if manual, _ := p.Dir.Read("manual_vip"); manual != "hand-made" {
		t.Errorf("unmanaged file was touched: %q", manual)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(p.Dir.Root), "escape.txt")); err == nil {
		t.Error("wrote outside the subscription directory")
	}

	again, err := p.Publish([]string{"alice", "bob"}, map[string]struct{}{"alice": {}})
	if err != nil {
		t.Fatal(err)
	}
	if again.Unchanged != 2 || again.Updated != 0 || again.Created != 0 {
		t.Errorf("second publish should not rewrite: %+v", again)
	}
}

func TestPublishMissingMaster(t *testing.T) {
	p := setup(t)
	if err := os.Remove(p.Servers); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Publish([]string{"bob"}, nil); !errors.Is(err, store.ErrMissing) {
		t.Fatalf("err = %v, want ErrMissing", err)
	}
	if p.Dir.Exists("bob") {
		t.Error("nothing should be written when the master list is missing")
	}
}
