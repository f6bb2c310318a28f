// Package perm holds permission values: "resource:action" strings, the "*"
// sentinel, and sets built from them.
package perm

import (
	"fmt"
	"sort"
	"strings"
)

// Wildcard grants every permission.
const Wildcard = "*"

type Permission struct {
	Resource string
	Action   string
}

func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// Parse splits a "resource:action" string. The wildcard is not a Permission.
func Parse(s string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return Permission{}, fmt.Errorf("invalid permission %q: want resource:action", s)
	}
	return Permission{Resource: resource, Action: action}, nil
}

// Normalize trims entries, drops blanks and duplicates and sorts the result.
// A list containing the wildcard collapses to just the wildcard.
func Normalize(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == Wildcard {
			return []string{Wildcard}
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Set is either the universal set or an explicit set of permission strings.
// The zero value is the empty set.
type Set struct {
	all   bool
	items map[string]struct{}
}

func All() Set { return Set{all: true} }

func Empty() Set { return Set{} }

// Of builds a set from permission strings. Any wildcard makes it universal.
func Of(perms ...string) Set {
	s := Set{items: make(map[string]struct{}, len(perms))}
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == Wildcard {
			return All()
		}
		s.items[p] = struct{}{}
	}
	return s
}

func (s Set) IsAll() bool { return s.all }

func (s Set) IsEmpty() bool { return !s.all && len(s.items) == 0 }

func (s Set) Len() int { return len(s.items) }

// Has reports membership. The universal set has every permission but the
// explicit wildcard string is only a member of the universal set.
func (s Set) Has(p string) bool {
	if s.all {
		return true
	}
	_, ok := s.items[p]
	return ok
}

// Intersect returns s ∩ o. Universal is the identity element.
func (s Set) Intersect(o Set) Set {
	switch {
	case s.all:
		return o
	case o.all:
		return s
	}
	out := Set{items: make(map[string]struct{})}
	for p := range s.items {
		if _, ok := o.items[p]; ok {
			out.items[p] = struct{}{}
		}
	}
	return out
}

// Missing returns the requested permissions that s does not grant, sorted.
// A requested wildcard is missing from every non-universal set.
func (s Set) Missing(requested []string) []string {
	if s.all {
		return nil
	}
	var out []string
	for _, p := range Normalize(requested) {
		if p == Wildcard {
			out = append(out, p)
			continue
		}
		if _, ok := s.items[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Slice returns the sorted members, or ["*"] for the universal set.
func (s Set) Slice() []string {
	if s.all {
		return []string{Wildcard}
	}
	out := make([]string, 0, len(s.items))
	for p := range s.items {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s Set) String() string {
	return "{" + strings.Join(s.Slice(), ",") + "}"
}
