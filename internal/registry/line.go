package registry

import (
	"regexp"
	"strings"
)

const (
	BlockedMarker = "🚫"
	NoteMarker    = "#"
	blockTagWord  = "| blocked"
)

type Kind int

const (
	None Kind = iota
	Block
	Unblock
	Delete
	Create
	Rename
	SetExpiry
)

var kindNames = [...]string{"none", "block", "unblock", "delete", "create", "rename", "expire"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Directive is the single command a registry line may carry.
type Directive struct {
	Kind Kind
	Arg  string
}

// Line is one parsed registry row.
type Line struct {
	Username  string
	Blocked   bool
	Data      string
	Note      string
	Directive Directive
	// Raw is set for rows that are not user entries (comments) and are kept verbatim.
	Raw string
}

var (
	directiveToken = regexp.MustCompile(`(?i)(?:^|\s)---(unblock|block|delete|create|make|rename|expire|b|u|d|c|m|r|e)(?:\s|$)`)
	blockTag       = regexp.MustCompile(`\s*\|\s*blocked\s+\d{4}-\d{2}-\d{2}`)
	nameChars      = regexp.MustCompile(`^[\p{L}\p{N}_.@+-]+$`)
)

var tokenKinds = map[string]Kind{
	"b": Block, "block": Block,
	"u": Unblock, "unblock": Unblock,
	"d": Delete, "delete": Delete,
	"c": Create, "create": Create, "m": Create, "make": Create,
	"r": Rename, "rename": Rename,
	"e": SetExpiry, "expire": SetExpiry,
}

// Parse splits a raw registry row. Parsing a rendered, directive-free line
// gives back the same fields.
func Parse(raw string) Line {
	text := strings.TrimSpace(raw)
	if text == "" || strings.HasPrefix(text, NoteMarker) || strings.HasPrefix(text, "//") {
		return Line{Raw: text}
	}
	var l Line
	if strings.HasPrefix(text, BlockedMarker) {
		l.Blocked = true
		text = strings.TrimSpace(strings.TrimPrefix(text, BlockedMarker))
	}
	if loc := directiveToken.FindStringSubmatchIndex(text); loc != nil {
		l.Directive.Kind = tokenKinds[strings.ToLower(text[loc[2]:loc[3]])]
		head, tail := strings.TrimSpace(text[:loc[0]]), text[loc[1]:]
		// the argument runs to the note marker or the end of the line
		arg, rest := tail, ""
		if i := strings.Index(tail, NoteMarker); i >= 0 {
			arg, rest = tail[:i], tail[i:]
		}
		switch l.Directive.Kind {
		case Rename:
			if f := strings.Fields(arg); len(f) > 0 {
				l.Directive.Arg = f[0]
				arg = strings.Join(f[1:], " ")
			}
		case SetExpiry:
			l.Directive.Arg = strings.Join(strings.Fields(arg), " ")
			arg = ""
		}
		text = stripDirectives(head + " " + arg + " " + rest)
	}
	if i := strings.Index(text, NoteMarker); i >= 0 {
		l.Note = strings.TrimSpace(text[i+len(NoteMarker):])
		text = strings.TrimSpace(text[:i])
	}
	if fields := strings.Fields(text); len(fields) > 0 {
		l.Username = fields[0]
		l.Data = strings.Join(fields[1:], " ")
	}
	return l
}

// String renders the clean row: marker, username, data and note. The directive is never rendered.
func (l Line) String() string {
	if l.Username == "" {
		return l.Raw
	}
	var sb strings.Builder
	if l.Blocked {
		sb.WriteString(BlockedMarker)
	}
	sb.WriteString(l.Username)
	if l.Data != "" {
		sb.WriteString(" ")
		sb.WriteString(l.Data)
	}
	if l.Note != "" {
		sb.WriteString(" ")
		sb.WriteString(NoteMarker)
		sb.WriteString(l.Note)
	}
	return sb.String()
}

func (l Line) IsEntry() bool {
	return l.Username != "" || l.Directive.Kind != None
}

func (l *Line) addBlockTag(date string) {
	l.removeBlockTag()
	tag := blockTagWord + " " + date
	if l.Note == "" {
		l.Note = tag
		return
	}
	l.Note = l.Note + " " + tag
}

func (l *Line) removeBlockTag() {
	l.Note = strings.TrimSpace(blockTag.ReplaceAllString(l.Note, ""))
}

// ValidName reports whether name can serve as a username and a file name.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, "---") {
		return false
	}
	return nameChars.MatchString(name)
}

// stripDirectives drops any further directive tokens; one row carries one directive.
func stripDirectives(text string) string {
	text = " " + text + " "
	for directiveToken.MatchString(text) {
		text = directiveToken.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(text)
}

func joinData(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
