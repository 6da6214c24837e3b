package registry

import (
	"sort"
	"strings"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/samber/lo"

	"github.com/justVisiting992/subkeeper/internal/expiry"
)

const blockDateLayout = "2006-01-02"

type EffectKind int

const (
	CreateFile EffectKind = iota
	RenameFile
	DeleteFile
)

// Effect is a subscription file change the caller has to carry out.
type Effect struct {
	Kind    EffectKind
	Name    string
	NewName string
}

// Event records one applied change for the history log.
type Event struct {
	Action string
	User   string
	Detail string
}

type Input struct {
	Lines   []string
	Blocked []string
	// Subscriptions are the usernames that currently own a subscription file.
	Subscriptions []string
	// Unmanaged matches subscription names that are neither discovered nor reused.
	Unmanaged func(name string) bool
	Discover  bool
	Now       time.Time
	// Rendered is when Lines were last written. It anchors "expires today" rows.
	Rendered time.Time
}

type Result struct {
	Lines   []string
	Blocked []string
	// Users are the live usernames in registry order.
	Users   []string
	Effects []Effect
	Events  []Event
	Changed []string
}

// BlockedNames returns the usernames of the blocked set.
func (r Result) BlockedNames() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Blocked))
	for _, line := range r.Blocked {
		if name := blockedName(line); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

type entry struct {
	Line
	changed    bool
	deleted    bool
	freshData  bool
	changeSeq  int
	discovered bool
}

type pass struct {
	in        Input
	names     *names
	entries   []*entry
	owner     map[string]*entry
	seq       int
	date      string
	effects   []Effect
	events    []Event
	blocked   []string // newly blocked, processing order
	unblocked map[string]struct{}
	deleted   map[string]struct{}
	renamed   map[string]string
	listed    map[string]struct{} // names in the previous blocked set
}

// Process applies every directive in the registry and derives the next
// registry rows, blocked set and subscription file effects.
func Process(in Input) Result {
	if in.Rendered.IsZero() {
		in.Rendered = in.Now
	}
	if in.Unmanaged == nil {
		in.Unmanaged = func(string) bool { return false }
	}
	p := &pass{
		in:        in,
		owner:     make(map[string]*entry),
		date:      in.Now.Format(blockDateLayout),
		unblocked: make(map[string]struct{}),
		deleted:   make(map[string]struct{}),
		renamed:   make(map[string]string),
		listed:    make(map[string]struct{}),
	}
	for _, line := range in.Blocked {
		if name := blockedName(line); name != "" {
			p.listed[name] = struct{}{}
		}
	}
	for _, raw := range in.Lines {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p.entries = append(p.entries, &entry{Line: Parse(raw)})
	}
	p.discover()
	p.claimExisting()

	for _, e := range p.entries {
		if !e.IsEntry() {
			continue
		}
		p.apply(e)
		if !e.deleted {
			p.checkExpiry(e)
		}
	}
	p.applyShortcut()

	lines, users := p.render()
	return Result{
		Lines:   lines,
		Blocked: p.blockedSet(),
		Users:   users,
		Effects: p.effects,
		Events:  p.events,
		Changed: p.changedNames(),
	}
}

// discover appends a plain entry for every orphan subscription file. Files
// that are not adopted are reserved so no new user takes their name.
func (p *pass) discover() {
	plain := make(map[string]struct{})
	creating := make(map[string]struct{})
	for _, e := range p.entries {
		switch {
		case e.Username == "":
		case e.Directive.Kind == Create:
			creating[e.Username] = struct{}{}
		default:
			plain[e.Username] = struct{}{}
		}
	}
	reserved := make(map[string]struct{})
	for _, name := range p.in.Subscriptions {
		if _, ok := plain[name]; ok {
			continue
		}
		if p.in.Unmanaged(name) {
			reserved[name] = struct{}{}
			continue
		}
		if _, ok := creating[name]; ok {
			continue
		}
		if !p.in.Discover || !ValidName(name) {
			reserved[name] = struct{}{}
			continue
		}
		p.entries = append(p.entries, &entry{Line: Line{Username: name}, discovered: true})
		plain[name] = struct{}{}
	}
	p.names = newNames(func(name string) bool {
		_, ok := reserved[name]
		return ok
	})
}

// claimExisting gives every row that keeps its name ownership of it before
// any create or rename target is resolved.
func (p *pass) claimExisting() {
	for _, e := range p.entries {
		if e.Username == "" || e.Directive.Kind == Create {
			continue
		}
		if _, ok := p.owner[e.Username]; ok {
			continue
		}
		p.owner[e.Username] = e
		p.names.claim(e.Username)
	}
}

func (p *pass) apply(e *entry) {
	if e.discovered {
		p.touch(e)
		p.event("discover", e.Username, "")
		gologger.Info().Msgf("🔎 Discovered subscription file for [%s]", e.Username)
	}
	d := e.Directive
	e.Directive = Directive{}

	switch {
	case e.Username == "":
		base := syntheticBase
		if d.Kind == Rename && ValidName(d.Arg) {
			base = d.Arg
		}
		e.Username = p.names.unique(base)
		p.names.claim(e.Username)
		p.owner[e.Username] = e
		p.provision(e)
		gologger.Info().Msgf("🆕 Created user [%s]", e.Username)
		if d.Kind == Rename || d.Kind == Create {
			return
		}
	case d.Kind == Create && !ValidName(e.Username):
		gologger.Warning().Msgf("Cannot create [%s]: not a valid username, directive dropped", e.Username)
		return
	case d.Kind == Create:
		name := e.Username
		if p.names.has(name) {
			name = p.names.unique(name)
			gologger.Warning().Msgf("Username [%s] is taken, created [%s] instead", e.Username, name)
		}
		e.Username = name
		p.names.claim(name)
		p.owner[name] = e
		p.provision(e)
		return
	case p.owner[e.Username] != e:
		name := p.names.unique(e.Username)
		gologger.Warning().Msgf("Duplicate username [%s] renamed to [%s]", e.Username, name)
		e.Username = name
		p.names.claim(name)
		p.owner[name] = e
		p.provision(e)
	}

	switch d.Kind {
	case Block:
		if !e.Blocked {
			p.block(e, "block")
		}
	case Unblock:
		if _, listed := p.listed[e.Username]; e.Blocked || listed {
			p.unblock(e)
		}
	case Delete:
		p.remove(e)
	case Rename:
		p.rename(e, d.Arg)
	case SetExpiry:
		p.setExpiry(e, d.Arg)
	}
}

func (p *pass) provision(e *entry) {
	p.touch(e)
	p.effects = append(p.effects, Effect{Kind: CreateFile, Name: e.Username})
	p.event("create", e.Username, "")
}

func (p *pass) block(e *entry, reason string) {
	e.Blocked = true
	e.addBlockTag(p.date)
	p.touch(e)
	delete(p.unblocked, e.Username)
	p.blocked = append(p.blocked, e.Username)
	p.event(reason, e.Username, "")
	gologger.Info().Msgf("🚫 Blocked [%s] (%s)", e.Username, reason)
}

func (p *pass) unblock(e *entry) {
	e.Blocked = false
	e.removeBlockTag()
	p.touch(e)
	p.blocked = lo.Without(p.blocked, e.Username)
	p.unblocked[e.Username] = struct{}{}
	p.event("unblock", e.Username, "")
	gologger.Info().Msgf("✅ Unblocked [%s]", e.Username)
}

func (p *pass) remove(e *entry) {
	e.deleted = true
	p.touch(e)
	p.names.release(e.Username)
	delete(p.owner, e.Username)
	p.deleted[e.Username] = struct{}{}
	p.blocked = lo.Without(p.blocked, e.Username)
	p.effects = append(p.effects, Effect{Kind: DeleteFile, Name: e.Username})
	p.event("delete", e.Username, "")
	gologger.Info().Msgf("🗑️ Deleted [%s]", e.Username)
}

func (p *pass) rename(e *entry, target string) {
	switch {
	case target == "":
		gologger.Warning().Msgf("Rename of [%s] has no target, directive dropped", e.Username)
		return
	case !ValidName(target):
		gologger.Warning().Msgf("Rename of [%s] to %q is not a valid username, directive dropped", e.Username, target)
		return
	case target == e.Username:
		return
	}
	newName := p.names.unique(target)
	if newName != target {
		gologger.Warning().Msgf("Username [%s] is taken, renaming [%s] to [%s]", target, e.Username, newName)
	}
	oldName := e.Username
	p.names.release(oldName)
	delete(p.owner, oldName)
	p.names.claim(newName)
	p.owner[newName] = e
	e.Username = newName
	p.touch(e)
	p.renamed[oldName] = newName
	if lo.Contains(p.blocked, oldName) {
		p.blocked = lo.Replace(p.blocked, oldName, newName, -1)
	}
	p.effects = append(p.effects, Effect{Kind: RenameFile, Name: oldName, NewName: newName})
	p.event("rename", oldName, newName)
	gologger.Info().Msgf("✏️ Renamed [%s] -> [%s]", oldName, newName)
}

func (p *pass) setExpiry(e *entry, expr string) {
	ts, err := expiry.ParseRelative(expr, p.in.Now)
	if err != nil {
		gologger.Warning().Msgf("Expiry for [%s] left unchanged: %s", e.Username, err)
		return
	}
	rendered := expiry.Format(ts, p.in.Now)
	if st, ok := expiry.Check(e.Data, p.in.Rendered, p.in.Now); ok {
		e.Data = strings.TrimSpace(strings.Replace(e.Data, st.Match, rendered, 1))
	} else {
		e.Data = joinData(e.Data, rendered)
	}
	e.freshData = true
	p.touch(e)
	p.event("expire-set", e.Username, rendered)
	gologger.Info().Msgf("⏳ [%s] %s", e.Username, rendered)
}

// checkExpiry re-renders the expiry against the run time and blocks expired users.
func (p *pass) checkExpiry(e *entry) {
	ref := p.in.Rendered
	if e.freshData {
		ref = p.in.Now
	}
	st, ok := expiry.Check(e.Data, ref, p.in.Now)
	if !ok {
		return
	}
	e.Data = strings.TrimSpace(strings.Replace(e.Data, st.Match, expiry.Format(st.At, p.in.Now), 1))
	if st.Expired && !e.Blocked {
		p.block(e, "expired")
	}
}

// applyShortcut blocks active users listed in the blocked file by hand.
func (p *pass) applyShortcut() {
	for _, line := range p.in.Blocked {
		name := blockedName(line)
		if newName, ok := p.renamed[name]; ok {
			name = newName
		}
		e, ok := p.owner[name]
		if !ok || e.deleted || e.Blocked {
			continue
		}
		if _, ok := p.unblocked[name]; ok {
			continue
		}
		// the row belonged to a user deleted this pass, not to a re-created one
		if _, ok := p.deleted[name]; ok {
			continue
		}
		p.block(e, "blocked-file")
	}
}

func (p *pass) touch(e *entry) {
	p.seq++
	e.changed = true
	e.changeSeq = p.seq
}

func (p *pass) event(action, user, detail string) {
	p.events = append(p.events, Event{Action: action, User: user, Detail: detail})
}

// render puts changed rows on top, latest change first, then the rest in file order.
func (p *pass) render() ([]string, []string) {
	var changed, rest []*entry
	for _, e := range p.entries {
		switch {
		case e.deleted:
		case e.changed:
			changed = append(changed, e)
		default:
			rest = append(rest, e)
		}
	}
	ordered := append(lo.Reverse(sortBySeq(changed)), rest...)
	lines := make([]string, 0, len(ordered))
	var users []string
	for _, e := range ordered {
		line := e.String()
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if e.Username != "" {
			users = append(users, e.Username)
		}
	}
	return lines, users
}

// blockedSet is (previous ∪ newly blocked) − (unblocked ∪ deleted), healed
// against the blocked flags of the registry.
func (p *pass) blockedSet() []string {
	out := make([]string, 0, len(p.in.Blocked)+len(p.blocked))
	seen := make(map[string]struct{})
	add := func(name, line string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		if _, ok := p.unblocked[name]; ok {
			return
		}
		if _, ok := p.deleted[name]; ok {
			if _, live := p.owner[name]; !live {
				return
			}
		}
		seen[name] = struct{}{}
		out = append(out, line)
	}
	prevRow := make(map[string]string, len(p.in.Blocked))
	for _, line := range p.in.Blocked {
		if name := blockedName(line); name != "" {
			if _, ok := prevRow[name]; !ok {
				prevRow[name] = strings.TrimSpace(line)
			}
		}
	}
	for i := len(p.blocked) - 1; i >= 0; i-- {
		name := p.blocked[i]
		row := prevRow[name]
		if _, gone := p.deleted[name]; gone {
			row = ""
		}
		add(name, lo.CoalesceOrEmpty(row, name))
	}
	for _, line := range p.in.Blocked {
		name := blockedName(line)
		if name == "" {
			if strings.TrimSpace(line) != "" {
				gologger.Warning().Msgf("Ignoring blocked-file row %q", line)
			}
			continue
		}
		if newName, ok := p.renamed[name]; ok {
			add(newName, renameRow(line, newName))
			continue
		}
		if _, ok := p.deleted[name]; ok {
			continue
		}
		if e, ok := p.owner[name]; ok && !e.Blocked {
			continue
		}
		add(name, strings.TrimSpace(line))
	}
	for _, e := range p.entries {
		if e.IsEntry() && !e.deleted && e.Blocked {
			add(e.Username, e.Username)
		}
	}
	return out
}

func (p *pass) changedNames() []string {
	var names []string
	for _, e := range sortBySeq(lo.Filter(p.entries, func(e *entry, _ int) bool { return e.changed && !e.deleted })) {
		names = append(names, e.Username)
	}
	return names
}

// blockedName extracts the username of a blocked-file row. Directive tokens
// are not accepted there; such rows yield "".
func blockedName(line string) string {
	text := strings.TrimSpace(line)
	if i := strings.Index(text, NoteMarker); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), BlockedMarker))
	fields := strings.Fields(text)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "---") {
		return ""
	}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "---") {
			return ""
		}
	}
	return fields[0]
}

// renameRow swaps the username of a blocked-file row and keeps its note.
func renameRow(line, name string) string {
	text := strings.TrimSpace(line)
	if i := strings.Index(text, NoteMarker); i >= 0 {
		return name + " " + text[i:]
	}
	return name
}

func sortBySeq(entries []*entry) []*entry {
	out := append([]*entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].changeSeq < out[j].changeSeq })
	return out
}
