package perm

import (
	"fmt"
	"sort"
	"strings"
)

type Action struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Resource struct {
	Name    string   `json:"name"`
	Actions []Action `json:"actions"`
}

// Catalog enumerates the assignable permissions. It is immutable once built;
// accessors return copies.
type Catalog struct {
	resources []Resource
	index     map[string]struct{}
}

// NewCatalog copies resources into a catalog sorted by resource name.
func NewCatalog(resources []Resource) (Catalog, error) {
	c := Catalog{index: make(map[string]struct{})}
	for _, r := range resources {
		if r.Name == "" {
			return Catalog{}, fmt.Errorf("catalog resource with empty name")
		}
		cp := Resource{Name: r.Name, Actions: append([]Action(nil), r.Actions...)}
		for _, a := range cp.Actions {
			p := Permission{Resource: r.Name, Action: a.Name}.String()
			if a.Name == "" {
				return Catalog{}, fmt.Errorf("catalog resource %s has empty action", r.Name)
			}
			if _, dup := c.index[p]; dup {
				return Catalog{}, fmt.Errorf("catalog permission %s declared twice", p)
			}
			c.index[p] = struct{}{}
		}
		c.resources = append(c.resources, cp)
	}
	sort.Slice(c.resources, func(i, j int) bool { return c.resources[i].Name < c.resources[j].Name })
	return c, nil
}

// Empty catalogs accept any well-formed permission.
func (c Catalog) Empty() bool { return len(c.index) == 0 }

func (c Catalog) Contains(p string) bool {
	_, ok := c.index[p]
	return ok
}

func (c Catalog) Resources() []Resource {
	out := make([]Resource, len(c.resources))
	for i, r := range c.resources {
		out[i] = Resource{Name: r.Name, Actions: append([]Action(nil), r.Actions...)}
	}
	return out
}

// Permissions lists every catalog entry as "resource:action", sorted.
func (c Catalog) Permissions() []string {
	out := make([]string, 0, len(c.index))
	for p := range c.index {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Unknown returns the entries of perms that are malformed or absent from the
// catalog. The wildcard is always known.
func (c Catalog) Unknown(perms []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" || p == Wildcard {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		if _, err := Parse(p); err != nil {
			out = append(out, p)
			continue
		}
		if !c.Empty() && !c.Contains(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
