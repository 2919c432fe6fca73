package auth

import (
	"sort"
	"strings"
)

// Allowlist decides who may start a banking session. An empty list lets
// everyone in.
type Allowlist struct {
	allowed map[string]struct{}
	fold    bool
}

// New builds an allow-list. With caseFold, ids compare case-insensitively;
// XMPP addresses need that, Telegram chat ids do not.
func New(ids []string, caseFold bool) *Allowlist {
	a := &Allowlist{allowed: make(map[string]struct{}, len(ids)), fold: caseFold}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		a.allowed[a.key(id)] = struct{}{}
	}
	return a
}

func (a *Allowlist) key(id string) string {
	if a.fold {
		return strings.ToLower(id)
	}
	return id
}

func (a *Allowlist) Restricted() bool {
	return len(a.allowed) > 0
}

func (a *Allowlist) IsAllowed(id string) bool {
	if !a.Restricted() {
		return true
	}
	_, ok := a.allowed[a.key(id)]
	return ok
}

// List returns the normalized ids in sorted order.
func (a *Allowlist) List() []string {
	out := make([]string, 0, len(a.allowed))
	for id := range a.allowed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
