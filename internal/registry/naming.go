package registry

import "strconv"

const syntheticBase = "user"

// names tracks which usernames are taken during a pass.
type names struct {
	taken    map[string]struct{}
	reserved func(string) bool
}

func newNames(reserved func(string) bool) *names {
	if reserved == nil {
		reserved = func(string) bool { return false }
	}
	return &names{taken: make(map[string]struct{}), reserved: reserved}
}

func (n *names) has(name string) bool {
	if _, ok := n.taken[name]; ok {
		return true
	}
	return n.reserved(name)
}

func (n *names) claim(name string) { n.taken[name] = struct{}{} }

func (n *names) release(name string) { delete(n.taken, name) }

// unique returns base if free, otherwise the first free of base1, base2, ...
func (n *names) unique(base string) string {
	if base == "" {
		base = syntheticBase
	}
	if !n.has(base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := base + strconv.Itoa(i)
		if !n.has(candidate) {
			return candidate
		}
	}
}
