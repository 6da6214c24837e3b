package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/justVisiting992/subkeeper/internal/config"
	"github.com/justVisiting992/subkeeper/internal/servers"
	"github.com/justVisiting992/subkeeper/internal/store"
)

var runAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		UserList:      filepath.Join(dir, "user_list.txt"),
		BlockedUsers:  filepath.Join(dir, "blocked_users.txt"),
		Servers:       filepath.Join(dir, "main.txt"),
		NonWorking:    filepath.Join(dir, "non_working.txt"),
		Subscriptions: filepath.Join(dir, "subscriptions"),
		History:       filepath.Join(dir, "history.log"),
		Channels:      filepath.Join(dir, "channels.csv"),
		GeoDB:         filepath.Join(dir, "Country.mmdb"),
		Clash:         filepath.Join(dir, "clash.yaml"),
	}
	cfg.Unmanaged = []string{"manual_*"}
	cfg.Fast = true
	return cfg
}

func write(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := store.WriteLines(path, lines); err != nil {
		t.Fatal(err)
	}
}

func payload(t *testing.T, dir store.SubscriptionDir, name string) string {
	t.Helper()
	raw, err := dir.Read(name)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return string(decoded)
}

func snapshot(t *testing.T, cfg *config.Config) map[string]string {
	t.Helper()
	files := map[string]string{}
	paths := []string{cfg.Paths.UserList, cfg.Paths.BlockedUsers, cfg.Paths.Clash, cfg.Paths.Servers}
	subs, _ := filepath.Glob(filepath.Join(cfg.Paths.Subscriptions, "*.txt"))
	for _, p := range append(paths, subs...) {
		raw, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		files[p] = string(raw)
	}
	return files
}

func TestRunFastPass(t *testing.T) {
	cfg := testConfig(t)
	dir := store.SubscriptionDir{Root: cfg.Paths.Subscriptions}
	write(t, cfg.Paths.UserList, "alice ---b", "bob", "carol ---c")
	write(t, cfg.Paths.Servers, "vless://u@h.net:443?b=2&a=1#X", "vless://u@h.net:443?a=1&b=2#Y")
	if _, err := dir.Write("manual_vip", "hand-made"); err != nil {
		t.Fatal(err)
	}
	if _, err := dir.Create("dave"); err != nil {
		t.Fatal(err)
	}

	r := New(cfg, WithClock(func() time.Time { return runAt }))
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Users != 4 || sum.Blocked != 1 || sum.ClashProxies != 1 {
		t.Errorf("summary = %+v", sum)
	}

	lines, _ := store.ReadLines(cfg.Paths.UserList)
	want := []string{"dave", "carol", "🚫alice #| blocked 2024-01-01", "bob"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("registry = %q, want %q", lines, want)
	}
	if blocked, _ := store.ReadLines(cfg.Paths.BlockedUsers); !reflect.DeepEqual(blocked, []string{"alice"}) {
		t.Errorf("blocked = %q", blocked)
	}
	if got := payload(t, dir, "alice"); got != strings.Join(cfg.Decoy, "\n") {
		t.Errorf("alice should get the decoy, got %q", got)
	}
	for _, name := range []string{"bob", "carol", "dave"} {
		if got := payload(t, dir, name); got != "vless://u@h.net:443?b=2&a=1#X" {
			t.Errorf("%s payload = %q", name, got)
		}
	}
	if manual, _ := dir.Read("manual_vip"); manual != "hand-made" {
		t.Errorf("unmanaged file touched: %q", manual)
	}
	history, _ := store.ReadLines(cfg.Paths.History)
	if len(history) != 3 || !strings.HasPrefix(history[0], "discover | dave") {
		t.Errorf("history = %q", history)
	}

	before := snapshot(t, cfg)
	if _, err := New(cfg, WithClock(func() time.Time { return runAt.Add(time.Minute) })).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	after := snapshot(t, cfg)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("second pass changed files:\n%v\n---\n%v", before, after)
	}
	if again, _ := store.ReadLines(cfg.Paths.History); len(again) != 3 {
		t.Errorf("quiet pass wrote history: %q", again)
	}
}

func TestRunWithMaintenance(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fast = false
	write(t, cfg.Paths.UserList, "bob")
	write(t, cfg.Paths.Servers, "trojan://pw@1.1.1.1:443#up", "trojan://pw@2.2.2.2:443#down")
	m := &servers.Maintainer{
		Servers:    cfg.Paths.Servers,
		NonWorking: cfg.Paths.NonWorking,
		Window:     7 * 24 * time.Hour,
		Prober: &servers.Prober{Dial: func(_ context.Context, _, addr string) (net.Conn, error) {
			if addr != "1.1.1.1:443" {
				return nil, errors.New("refused")
			}
			c, s := net.Pipe()
			s.Close()
			return c, nil
		}},
		Now: func() time.Time { return runAt },
	}
	sum, err := New(cfg, WithClock(func() time.Time { return runAt }), WithMaintainer(m)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !sum.ServersRan || sum.Servers.Live != 1 || sum.Servers.Quarantined != 1 {
		t.Errorf("servers = %+v", sum.Servers)
	}
	dir := store.SubscriptionDir{Root: cfg.Paths.Subscriptions}
	if got := payload(t, dir, "bob"); got != "trojan://pw@1.1.1.1:443#up" {
		t.Errorf("bob payload = %q", got)
	}
	q, _ := store.ReadLines(cfg.Paths.NonWorking)
	if want := []string{"trojan://pw@2.2.2.2:443#down | main.txt | 2024-01-01 12:00"}; !reflect.DeepEqual(q, want) {
		t.Errorf("non-working = %q, want %q", q, want)
	}
}

func TestRunMissingMaster(t *testing.T) {
	cfg := testConfig(t)
	write(t, cfg.Paths.UserList, "alice ---b")
	_, err := New(cfg, WithClock(func() time.Time { return runAt })).Run(context.Background())
	if !errors.Is(err, store.ErrMissing) {
		t.Fatalf("err = %v, want ErrMissing", err)
	}
	// the registry pass still happened
	if lines, _ := store.ReadLines(cfg.Paths.UserList); !reflect.DeepEqual(lines, []string{"🚫alice #| blocked 2024-01-01"}) {
		t.Errorf("registry = %q", lines)
	}
	if store.Exists(cfg.Paths.Clash) {
		t.Error("clash export needs a master list")
	}
}

func TestRunFreshInstall(t *testing.T) {
	cfg := testConfig(t)
	write(t, cfg.Paths.Servers, "trojan://pw@1.1.1.1:443#up")
	if _, err := New(cfg, WithClock(func() time.Time { return runAt })).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lines, _ := store.ReadLines(cfg.Paths.UserList); !reflect.DeepEqual(lines, []string{"default"}) {
		t.Errorf("registry = %q", lines)
	}
	dir := store.SubscriptionDir{Root: cfg.Paths.Subscriptions}
	if got := payload(t, dir, "default"); got != "trojan://pw@1.1.1.1:443#up" {
		t.Errorf("default payload = %q", got)
	}
}
