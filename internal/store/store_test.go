package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestReadLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	if err := os.WriteFile(path, []byte("\xEF\xBB\xBFa\r\nb\n\nc\n\n\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "b", "", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")
	if _, err := ReadLines(path); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
	lines, err := ReadOptional(path)
	if err != nil || lines != nil {
		t.Fatalf("unexpected optional read: %v %v", lines, err)
	}
}

func TestWriteLinesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.txt")
	if err := WriteLines(path, []string{"x", "y"}); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "x\ny\n" {
		t.Fatalf("unexpected content %q", raw)
	}
	if err := WriteLines(path, nil); err != nil {
		t.Fatal(err)
	}
	raw, _ = os.ReadFile(path)
	if len(raw) != 0 {
		t.Fatalf("expected empty file, got %q", raw)
	}
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestTxnRollback(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(a, []byte("old\n"), 0644); err != nil {
		t.Fatal(err)
	}
	tx := Begin()
	if err := tx.StageLines(a, []string{"new"}); err != nil {
		t.Fatal(err)
	}
	tx.Rollback()
	raw, _ := os.ReadFile(a)
	if string(raw) != "old\n" {
		t.Fatalf("rollback changed file: %q", raw)
	}
	if err := tx.Commit(); err == nil {
		t.Fatal("commit after rollback should fail")
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestTxnCommit(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")
	tx := Begin()
	if err := tx.StageLines(a, []string{"1"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.StageLines(b, []string{"2"}); err != nil {
		t.Fatal(err)
	}
	if Exists(a) || Exists(b) {
		t.Fatal("files visible before commit")
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	for path, want := range map[string]string{a: "1\n", b: "2\n"} {
		raw, _ := os.ReadFile(path)
		if string(raw) != want {
			t.Errorf("%s = %q, want %q", path, raw, want)
		}
	}
}

func TestSubscriptionDir(t *testing.T) {
	d := SubscriptionDir{Root: filepath.Join(t.TempDir(), "subs")}
	names, err := d.Names()
	if err != nil || len(names) != 0 {
		t.Fatalf("missing dir should list nothing: %v %v", names, err)
	}
	if created, err := d.Create("bob"); err != nil || !created {
		t.Fatalf("create: %v %v", created, err)
	}
	if created, _ := d.Create("bob"); created {
		t.Fatal("second create should be a no-op")
	}
	if err := d.Rename("bob", "robert"); err != nil {
		t.Fatal(err)
	}
	if d.Exists("bob") || !d.Exists("robert") {
		t.Fatal("rename did not move the file")
	}
	if changed, _ := d.Write("robert", "abc"); !changed {
		t.Fatal("first write should change")
	}
	if changed, _ := d.Write("robert", "abc"); changed {
		t.Fatal("identical write should be skipped")
	}
	_ = os.WriteFile(filepath.Join(d.Root, "notes.md"), nil, 0644)
	names, _ = d.Names()
	if !reflect.DeepEqual(names, []string{"robert"}) {
		t.Fatalf("unexpected names %v", names)
	}
	if err := d.Remove("robert"); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove("robert"); err != nil {
		t.Fatalf("removing a missing file should be fine: %v", err)
	}
}

func TestPrependHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.log")
	at := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	if err := PrependHistory(path, []HistoryRecord{{Fields: []string{"block", "alice"}, At: at}}, 10); err != nil {
		t.Fatal(err)
	}
	err := PrependHistory(path, []HistoryRecord{
		{Fields: []string{"create", "bob"}, At: at},
		{Fields: []string{"rename", "bob", "a|b"}, At: at.Add(time.Minute)},
	}, 2)
	if err != nil {
		t.Fatal(err)
	}
	lines, _ := ReadLines(path)
	want := []string{
		"rename | bob | a/b | 2024-01-01 10:31",
		"create | bob | 2024-01-01 10:30",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("got %s", strings.Join(lines, "\n"))
	}
}
