package registry

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Line
	}{
		{raw: "alice", want: Line{Username: "alice"}},
		{raw: "alice ---b", want: Line{Username: "alice", Directive: Directive{Kind: Block}}},
		{raw: "  bob 2024-01-04 23:59 expires #paid | cash", want: Line{Username: "bob", Data: "2024-01-04 23:59 expires", Note: "paid | cash"}},
		{raw: "🚫carol #| blocked 2024-01-01", want: Line{Username: "carol", Blocked: true, Note: "| blocked 2024-01-01"}},
		{raw: "🚫 carol ---unblock", want: Line{Username: "carol", Blocked: true, Directive: Directive{Kind: Unblock}}},
		{raw: "dave extra ---d", want: Line{Username: "dave", Data: "extra", Directive: Directive{Kind: Delete}}},
		{raw: "erin ---m", want: Line{Username: "erin", Directive: Directive{Kind: Create}}},
		{raw: "frank ---r franky tail", want: Line{Username: "frank", Data: "tail", Directive: Directive{Kind: Rename, Arg: "franky"}}},
		{raw: "gina ---rename", want: Line{Username: "gina", Directive: Directive{Kind: Rename}}},
		{raw: "hank ---e 3 days 10:00 #note", want: Line{Username: "hank", Note: "note", Directive: Directive{Kind: SetExpiry, Arg: "3 days 10:00"}}},
		{raw: "ivan ---E 2 Weeks", want: Line{Username: "ivan", Directive: Directive{Kind: SetExpiry, Arg: "2 Weeks"}}},
		{raw: "---c", want: Line{Directive: Directive{Kind: Create}}},
		{raw: "---r zoe", want: Line{Directive: Directive{Kind: Rename, Arg: "zoe"}}},
		{raw: "jack ---b ---d", want: Line{Username: "jack", Directive: Directive{Kind: Block}}},
		{raw: "kate---b", want: Line{Username: "kate---b"}},
		{raw: "liam ---bob", want: Line{Username: "liam", Data: "---bob"}},
		{raw: "# comment", want: Line{Raw: "# comment"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := Parse(tt.raw); got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	clean := []string{
		"alice",
		"🚫bob #| blocked 2024-01-01",
		"carol 18:00 expires today",
		"dave 2024-02-10 23:59 expires #vip | blocked 2024-02-11",
		"# just a comment",
	}
	for _, line := range clean {
		l := Parse(line)
		if l.Directive.Kind != None {
			t.Errorf("%q: unexpected directive %v", line, l.Directive.Kind)
		}
		if got := l.String(); got != line {
			t.Errorf("render(parse(%q)) = %q", line, got)
		}
		if again := Parse(l.String()); again != l {
			t.Errorf("reparse of %q differs: %+v vs %+v", line, again, l)
		}
	}
}

func TestBlockTag(t *testing.T) {
	l := Parse("alice #vip")
	l.addBlockTag("2024-01-01")
	if l.Note != "vip | blocked 2024-01-01" {
		t.Fatalf("unexpected note %q", l.Note)
	}
	l.addBlockTag("2024-01-02")
	if l.Note != "vip | blocked 2024-01-02" {
		t.Fatalf("tag not replaced: %q", l.Note)
	}
	l.removeBlockTag()
	if l.Note != "vip" {
		t.Fatalf("tag not removed: %q", l.Note)
	}
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{name: "bob", want: true},
		{name: "bob_2.x-y", want: true},
		{name: "علی", want: true},
		{name: "", want: false},
		{name: "..", want: false},
		{name: "a/b", want: false},
		{name: "a#b", want: false},
		{name: "---b", want: false},
		{name: "🚫x", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidName(tt.name); got != tt.want {
				t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
