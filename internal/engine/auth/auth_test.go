package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripauth/internal/domain"
	"tripauth/internal/engine/auth"
	"tripauth/internal/repo"
)

type memDir struct {
	actors   map[string]domain.Actor
	profiles map[string]domain.Profile
	fail     error
}

func newMemDir() *memDir {
	return &memDir{actors: map[string]domain.Actor{}, profiles: map[string]domain.Profile{}}
}

func (d *memDir) Actor(_ context.Context, id string) (domain.Actor, error) {
	if d.fail != nil {
		return domain.Actor{}, d.fail
	}
	a, ok := d.actors[id]
	if !ok {
		return domain.Actor{}, repo.ErrNotFound
	}
	return a, nil
}

func (d *memDir) Profile(_ context.Context, id string) (domain.Profile, error) {
	if d.fail != nil {
		return domain.Profile{}, d.fail
	}
	p, ok := d.profiles[id]
	if !ok {
		return domain.Profile{}, repo.ErrNotFound
	}
	return p, nil
}

func (d *memDir) owner(id string, role domain.Role, perms ...string) domain.Actor {
	a := domain.Actor{ID: id, Role: role}
	if perms != nil {
		pid := "p-" + id
		d.profiles[pid] = domain.Profile{ID: pid, OwnerID: id, Permissions: perms}
		a.ProfileID = &pid
	}
	d.actors[id] = a
	return a
}

func (d *memDir) employee(id, parent string, perms ...string) domain.Actor {
	a := domain.Actor{ID: id, Role: domain.RoleEmployee}
	if parent != "" {
		a.ParentID = &parent
	}
	if perms != nil {
		pid := "p-" + id
		d.profiles[pid] = domain.Profile{ID: pid, Permissions: perms}
		a.ProfileID = &pid
	}
	d.actors[id] = a
	return a
}

func resolve(t *testing.T, d *memDir, a domain.Actor) []string {
	t.Helper()
	s, err := auth.Resolver{Dir: d}.Resolve(context.Background(), a)
	require.NoError(t, err)
	return s.Slice()
}

func TestOwnersAreUniversal(t *testing.T) {
	d := newMemDir()
	for _, tc := range []struct {
		role  domain.Role
		perms []string
	}{
		{domain.RoleOwnerAdmin, nil},
		{domain.RoleOwnerVendor, []string{}},
		{domain.RoleOwnerVendor, []string{"a:view"}},
	} {
		a := d.owner("o-"+string(tc.role)+fmt.Sprint(len(tc.perms)), tc.role, tc.perms...)
		assert.Equal(t, []string{"*"}, resolve(t, d, a), tc.role)
	}
}

func TestOrphanEmployeeKeepsProfile(t *testing.T) {
	d := newMemDir()
	e := d.employee("e", "", "a:view", "a:create")
	assert.Equal(t, []string{"a:create", "a:view"}, resolve(t, d, e))
}

func TestMissingParentCountsAsOrphan(t *testing.T) {
	d := newMemDir()
	e := d.employee("e", "gone", "a:view")
	assert.Equal(t, []string{"a:view"}, resolve(t, d, e))
}

func TestEmployeeWithoutProfileHasNothing(t *testing.T) {
	d := newMemDir()
	d.owner("v", domain.RoleOwnerVendor)
	e := d.employee("e", "v")
	assert.Empty(t, resolve(t, d, e))

	missing := "nope"
	e.ProfileID = &missing
	assert.Empty(t, resolve(t, d, e))
}

func TestBoundedInheritance(t *testing.T) {
	d := newMemDir()
	d.employee("m", "", "a:view")
	e := d.employee("e", "m", "a:view", "a:create")
	assert.Equal(t, []string{"a:view"}, resolve(t, d, e))
}

func TestFullAccessParentPassthrough(t *testing.T) {
	d := newMemDir()
	d.owner("v", domain.RoleOwnerVendor, "bookings:view")
	e := d.employee("e", "v", "x:y")
	assert.Equal(t, []string{"x:y"}, resolve(t, d, e))
}

func TestWildcardProfileTakesParent(t *testing.T) {
	d := newMemDir()
	d.employee("m", "", "a:view", "b:view")
	e := d.employee("e", "m", "*")
	assert.Equal(t, []string{"a:view", "b:view"}, resolve(t, d, e))
}

func TestLongChainIntersectsEveryLevel(t *testing.T) {
	d := newMemDir()
	d.owner("v", domain.RoleOwnerVendor)
	d.employee("l1", "v", "a:1", "a:2", "a:3", "a:4")
	d.employee("l2", "l1", "a:1", "a:2", "a:3", "x:9")
	d.employee("l3", "l2", "*")
	e := d.employee("l4", "l3", "a:1", "a:3", "x:9")
	assert.Equal(t, []string{"a:1", "a:3"}, resolve(t, d, e))
}

func TestCustomerParentGrantsNothing(t *testing.T) {
	d := newMemDir()
	d.actors["c"] = domain.Actor{ID: "c", Role: domain.RoleCustomer}
	e := d.employee("e", "c", "a:view")
	assert.Empty(t, resolve(t, d, e))
}

func TestCustomerAndUnknownRoles(t *testing.T) {
	d := newMemDir()
	pid := "p"
	d.profiles[pid] = domain.Profile{ID: pid, Permissions: []string{"*"}}
	for _, role := range []domain.Role{domain.RoleCustomer, domain.Role("superuser"), ""} {
		a := domain.Actor{ID: "x", Role: role, ProfileID: &pid}
		assert.Empty(t, resolve(t, d, a), role)
	}
}

func TestCycleResolvesEmpty(t *testing.T) {
	d := newMemDir()
	d.employee("a", "b", "x:y")
	b := d.employee("b", "a", "x:y")
	assert.Empty(t, resolve(t, d, b))

	self := d.employee("s", "s", "x:y")
	assert.Empty(t, resolve(t, d, self))
}

func TestDepthLimit(t *testing.T) {
	d := newMemDir()
	d.owner("v", domain.RoleOwnerVendor)
	parent := "v"
	var last domain.Actor
	for i := 0; i < 5; i++ {
		last = d.employee(fmt.Sprintf("e%d", i), parent, "a:view")
		parent = last.ID
	}
	s, err := auth.Resolver{Dir: d, MaxDepth: 5}.Resolve(context.Background(), last)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:view"}, s.Slice())

	s, err = auth.Resolver{Dir: d, MaxDepth: 4}.Resolve(context.Background(), last)
	require.NoError(t, err)
	assert.True(t, s.IsEmpty())
}

func TestStoreErrorsPropagate(t *testing.T) {
	d := newMemDir()
	e := d.employee("e", "v", "a:view")
	d.fail = errors.New("disk on fire")
	_, err := auth.Resolver{Dir: d}.Resolve(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestGuardEscalationSymmetry(t *testing.T) {
	d := newMemDir()
	v := d.owner("v", domain.RoleOwnerVendor)
	m := d.employee("m", "v", "activities:view", "activities:create", "employees:create")
	g := auth.Guard{Resolver: auth.Resolver{Dir: d}}
	ctx := context.Background()

	cases := []struct {
		actor domain.Actor
		perms []string
		want  bool
	}{
		{v, []string{"*"}, true},
		{v, []string{"anything:goes"}, true},
		{m, []string{"activities:delete"}, false},
		{m, []string{"activities:create"}, true},
		{m, []string{"activities:view", "employees:create"}, true},
		{m, []string{"*"}, false},
		{m, []string{"*", "activities:view"}, false},
		{m, nil, true},
	}
	for _, tc := range cases {
		ok, err := g.CanAssign(ctx, tc.actor, tc.perms)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "%s %v", tc.actor.ID, tc.perms)
	}
}

func TestGuardRequireReportsRejected(t *testing.T) {
	d := newMemDir()
	d.owner("v", domain.RoleOwnerVendor)
	m := d.employee("m", "v", "a:view")
	g := auth.Guard{Resolver: auth.Resolver{Dir: d}}

	dec, err := g.Require(context.Background(), m, []string{"a:view", "a:delete", "b:edit"})
	var esc auth.EscalationError
	require.ErrorAs(t, err, &esc)
	assert.Equal(t, "m", esc.ActorID)
	assert.Equal(t, []string{"a:delete", "b:edit"}, esc.Rejected)
	assert.False(t, dec.Allowed)
	assert.Equal(t, []string{"a:view"}, dec.Effective.Slice())

	dec, err = g.Require(context.Background(), m, []string{"a:view"})
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}
