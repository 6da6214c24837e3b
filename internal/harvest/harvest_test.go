package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/justVisiting992/subkeeper/internal/store"
)

const page = `<html><body>
<div class="tgme_widget_message_text">fresh config vless://id@1.2.3.4:443?security=tls</div>
<div class="tgme_widget_message_text">trojan://pw@h.net:443 and ss://YWVzLTEyOC1nY206cHc@5.6.7.8:8388</div>
<div class="other">vless://ignored@9.9.9.9:443</div>
</body></html>`

func TestExtract(t *testing.T) {
	got := Extract("a vless://x@h:1 b hy2://p@q:2 c vmess://eyJ9 d")
	want := []string{"vmess://eyJ9", "vless://x@h:1", "hy2://p@q:2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract = %q, want %q", got, want)
	}
}

func TestChannelName(t *testing.T) {
	tests := map[string]string{
		"https://t.me/somechannel":    "somechannel",
		"https://t.me/s/somechannel/": "somechannel",
		"https://t.me/@other":         "other",
	}
	for in, want := range tests {
		if got := ChannelName(in); got != want {
			t.Errorf("ChannelName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadChannels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.csv")
	if err := os.WriteFile(path, []byte("URL,Note\nhttps://t.me/a,first\n,skip\nhttps://t.me/b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadChannels(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"https://t.me/a", "https://t.me/b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("LoadChannels = %q, want %q", got, want)
	}
	if _, err := LoadChannels(filepath.Join(dir, "missing.csv")); !errors.Is(err, store.ErrMissing) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			http.Error(w, "bad agent", http.StatusForbidden)
			return
		}
		if r.URL.Path != "/s/good" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	h := New(Options{BaseURL: srv.URL + "/s", UserAgent: "test-agent"})
	links, stats := h.Run(context.Background(), []string{"https://t.me/good", "https://t.me/gone"})
	want := []string{
		"vless://id@1.2.3.4:443?security=tls",
		"ss://YWVzLTEyOC1nY206cHc@5.6.7.8:8388",
		"trojan://pw@h.net:443",
	}
	if !reflect.DeepEqual(links, want) {
		t.Errorf("links = %q, want %q", links, want)
	}
	if len(stats) != 2 || stats[0].Found != 3 || stats[0].Err != nil || stats[1].Err == nil {
		t.Errorf("unexpected stats %+v", stats)
	}
}
