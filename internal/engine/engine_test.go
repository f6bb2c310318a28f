package engine_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"tripauth/internal/config"
	"tripauth/internal/db"
	"tripauth/internal/domain"
	"tripauth/internal/engine"
	"tripauth/internal/engine/auth"
	"tripauth/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) owner(t *testing.T, role domain.Role, email string) domain.Actor {
	t.Helper()
	a, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Role: role, Email: email, FirstName: "Owner"})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return a
}

func (env testEnv) profile(t *testing.T, ownerID, name string, perms ...string) domain.Profile {
	t.Helper()
	p, err := env.Engine.CreateProfile(env.Ctx, ownerID, engine.ProfileCreateOptions{Name: name, Permissions: perms})
	if err != nil {
		t.Fatalf("create profile %s: %v", name, err)
	}
	return p
}

func (env testEnv) employee(t *testing.T, ownerID, email, profileID string) domain.Actor {
	t.Helper()
	e, err := env.Engine.CreateEmployee(env.Ctx, ownerID, engine.EmployeeCreateOptions{Email: email, ProfileID: profileID, CredentialHash: "hash"})
	if err != nil {
		t.Fatalf("create employee %s: %v", email, err)
	}
	return e
}

func (env testEnv) perms(t *testing.T, actorID string) domain.EffectivePermissions {
	t.Helper()
	eff, err := env.Engine.EffectivePermissions(env.Ctx, actorID)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	return eff
}

func expectKind(t *testing.T, err error, kind engine.Kind) {
	t.Helper()
	if got := engine.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func TestRegisterOwnerGetsFullAccessProfile(t *testing.T) {
	env := newTestEnv(t)
	for _, role := range []domain.Role{domain.RoleOwnerAdmin, domain.RoleOwnerVendor} {
		o := env.owner(t, role, string(role)+"@example.com")
		if o.ProfileID == nil {
			t.Fatalf("%s: expected auto profile", role)
		}
		p, err := env.Engine.GetProfile(env.Ctx, o.ID, *o.ProfileID)
		if err != nil {
			t.Fatalf("get profile: %v", err)
		}
		if p.Name != "Full Access" || !reflect.DeepEqual(p.Permissions, []string{"*"}) {
			t.Fatalf("unexpected owner profile %+v", p)
		}
		if eff := env.perms(t, o.ID); !eff.All {
			t.Fatalf("%s: owner must be universal, got %+v", role, eff)
		}
	}
}

func TestOwnerIgnoresRestrictiveProfile(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	empty := []string{}
	if _, err := env.Engine.UpdateProfile(env.Ctx, v.ID, *v.ProfileID, engine.ProfileChanges{Permissions: &empty}); err != nil {
		t.Fatalf("restrict owner profile: %v", err)
	}
	if eff := env.perms(t, v.ID); !eff.All {
		t.Fatalf("owner must stay universal, got %+v", eff)
	}
}

func TestRegisterRejects(t *testing.T) {
	env := newTestEnv(t)
	env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	_, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Role: domain.RoleOwnerAdmin, Email: " V@Example.com "})
	expectKind(t, err, engine.KindDuplicateIdentity)
	_, err = env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Role: domain.RoleEmployee, Email: "e@example.com"})
	expectKind(t, err, engine.KindInvalid)
	_, err = env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Role: domain.Role("root"), Email: "r@example.com"})
	expectKind(t, err, engine.KindInvalid)
	_, err = env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Role: domain.RoleCustomer, Email: "not-an-email"})
	expectKind(t, err, engine.KindInvalid)

	c, err := env.Engine.RegisterActor(env.Ctx, engine.RegisterOptions{Role: domain.RoleCustomer, Email: "c@example.com"})
	if err != nil {
		t.Fatalf("register customer: %v", err)
	}
	if c.ProfileID != nil {
		t.Fatalf("customers get no profile")
	}
	if eff := env.perms(t, c.ID); eff.All || len(eff.Permissions) != 0 {
		t.Fatalf("customer must resolve empty, got %+v", eff)
	}
}

func TestVendorAgentScenario(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "vendor@example.com")
	agent := env.profile(t, v.ID, "Agent", "bookings:view", "bookings:create")
	e := env.employee(t, v.ID, "agent@example.com", agent.ID)
	if e.ParentID == nil || *e.ParentID != v.ID || e.ProfileID == nil || *e.ProfileID != agent.ID {
		t.Fatalf("unexpected employee refs %+v", e)
	}
	eff := env.perms(t, e.ID)
	if eff.All || !reflect.DeepEqual(eff.Permissions, []string{"bookings:create", "bookings:view"}) {
		t.Fatalf("unexpected employee permissions %+v", eff)
	}

	_, err := env.Engine.CreateEmployee(env.Ctx, e.ID, engine.EmployeeCreateOptions{Email: "sub@example.com", ProfileID: agent.ID})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) || forbidden.Role != domain.RoleEmployee {
		t.Fatalf("expected forbidden, got %v", err)
	}
	entries, err := env.Engine.AuditLog(env.Ctx, engine.AuditQuery{ActorID: e.ID, Status: domain.AuditFailure})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "employee.create" || entries[0].Details["reason"] != "forbidden" {
		t.Fatalf("expected forbidden failure audit, got %+v", entries)
	}
	if _, err := env.Engine.ActorByEmail(env.Ctx, "sub@example.com"); engine.KindOf(err) != engine.KindNotFound {
		t.Fatalf("forbidden create must not persist: %v", err)
	}
}

func TestManagerScenario(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "vendor@example.com")
	mp := env.profile(t, v.ID, "Manager", "activities:view", "activities:create", "employees:create")
	m := env.employee(t, v.ID, "m@example.com", mp.ID)
	eff := env.perms(t, m.ID)
	if !reflect.DeepEqual(eff.Permissions, []string{"activities:create", "activities:view", "employees:create"}) {
		t.Fatalf("unexpected manager permissions %+v", eff)
	}
	dec, err := env.Engine.CanAssign(env.Ctx, m.ID, []string{"activities:delete"})
	if err != nil || dec.Allowed || !reflect.DeepEqual(dec.Rejected, []string{"activities:delete"}) {
		t.Fatalf("expected delete rejected: %+v %v", dec, err)
	}
	dec, err = env.Engine.CanAssign(env.Ctx, m.ID, []string{"activities:create"})
	if err != nil || !dec.Allowed {
		t.Fatalf("expected create allowed: %+v %v", dec, err)
	}
	dec, err = env.Engine.CanAssign(env.Ctx, m.ID, []string{"*"})
	if err != nil || dec.Allowed {
		t.Fatalf("wildcard must be rejected for employees: %+v %v", dec, err)
	}
	dec, err = env.Engine.CanAssign(env.Ctx, v.ID, []string{"*"})
	if err != nil || !dec.Allowed {
		t.Fatalf("owner may grant wildcard: %+v %v", dec, err)
	}
}

func TestDuplicateProfileIsRejectedCleanly(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	first := env.profile(t, v.ID, "Manager", "reviews:view")
	_, err := env.Engine.CreateProfile(env.Ctx, v.ID, engine.ProfileCreateOptions{Name: "Manager", Permissions: []string{"reviews:respond"}})
	var dup engine.DuplicateProfileError
	if !errors.As(err, &dup) || dup.Name != "Manager" || dup.OwnerID != v.ID {
		t.Fatalf("expected duplicate profile, got %v", err)
	}
	got, err := env.Engine.GetProfile(env.Ctx, v.ID, first.ID)
	if err != nil || !reflect.DeepEqual(got.Permissions, []string{"reviews:view"}) {
		t.Fatalf("first profile changed: %+v %v", got, err)
	}
	list, err := env.Engine.ListProfiles(env.Ctx, v.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected Full Access + Manager, got %+v %v", list, err)
	}

	other := env.owner(t, domain.RoleOwnerAdmin, "a@example.com")
	env.profile(t, other.ID, "Manager", "reviews:view")
}

func TestConcurrentDuplicateProfile(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CreateProfile(env.Ctx, v.ID, engine.ProfileCreateOptions{Name: "Agent", Permissions: []string{"bookings:view"}})
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		switch engine.KindOf(err) {
		case engine.KindNone:
			ok++
		case engine.KindDuplicateProfile:
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one success, got %d", ok)
	}
}

func TestCreateProfileValidation(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	_, err := env.Engine.CreateProfile(env.Ctx, v.ID, engine.ProfileCreateOptions{Name: "X", Permissions: []string{"bookings:teleport"}})
	expectKind(t, err, engine.KindInvalid)
	_, err = env.Engine.CreateProfile(env.Ctx, v.ID, engine.ProfileCreateOptions{Name: "  ", Permissions: []string{"bookings:view"}})
	expectKind(t, err, engine.KindInvalid)
	_, err = env.Engine.CreateProfile(env.Ctx, "ghost", engine.ProfileCreateOptions{Name: "X"})
	expectKind(t, err, engine.KindNotFound)

	p := env.profile(t, v.ID, "Everything", "bookings:view", "*")
	if !reflect.DeepEqual(p.Permissions, []string{"*"}) {
		t.Fatalf("wildcard should collapse the list, got %v", p.Permissions)
	}
}

func TestUpdateProfilePartial(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	p := env.profile(t, v.ID, "Agent", "bookings:view")
	env.profile(t, v.ID, "Guide", "activities:view")

	desc := "front desk"
	got, err := env.Engine.UpdateProfile(env.Ctx, v.ID, p.ID, engine.ProfileChanges{Description: &desc})
	if err != nil {
		t.Fatalf("update description: %v", err)
	}
	if got.Name != "Agent" || got.Description != desc || !reflect.DeepEqual(got.Permissions, []string{"bookings:view"}) {
		t.Fatalf("partial update clobbered fields: %+v", got)
	}

	clash := "Guide"
	_, err = env.Engine.UpdateProfile(env.Ctx, v.ID, p.ID, engine.ProfileChanges{Name: &clash})
	expectKind(t, err, engine.KindDuplicateProfile)

	same := "Agent"
	if _, err := env.Engine.UpdateProfile(env.Ctx, v.ID, p.ID, engine.ProfileChanges{Name: &same}); err != nil {
		t.Fatalf("renaming to own name: %v", err)
	}

	other := env.owner(t, domain.RoleOwnerAdmin, "a@example.com")
	_, err = env.Engine.UpdateProfile(env.Ctx, other.ID, p.ID, engine.ProfileChanges{Description: &desc})
	expectKind(t, err, engine.KindNotFound)
}

func TestProfileChangeAppliesToEmployees(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	p := env.profile(t, v.ID, "Agent", "bookings:view")
	e := env.employee(t, v.ID, "e@example.com", p.ID)
	perms := []string{"bookings:view", "bookings:refund"}
	if _, err := env.Engine.UpdateProfile(env.Ctx, v.ID, p.ID, engine.ProfileChanges{Permissions: &perms}); err != nil {
		t.Fatal(err)
	}
	if eff := env.perms(t, e.ID); !reflect.DeepEqual(eff.Permissions, []string{"bookings:refund", "bookings:view"}) {
		t.Fatalf("employee permissions not recomputed: %+v", eff)
	}
}

func TestDeleteProfile(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	used := env.profile(t, v.ID, "Agent", "bookings:view")
	unused := env.profile(t, v.ID, "Spare", "bookings:view")
	env.employee(t, v.ID, "e@example.com", used.ID)

	_, err := env.Engine.DeleteProfile(env.Ctx, v.ID, used.ID)
	var inUse engine.InUseError
	if !errors.As(err, &inUse) || inUse.References != 1 {
		t.Fatalf("expected in use, got %v", err)
	}
	_, err = env.Engine.DeleteProfile(env.Ctx, v.ID, *v.ProfileID)
	expectKind(t, err, engine.KindInUse)

	other := env.owner(t, domain.RoleOwnerAdmin, "a@example.com")
	ok, err := env.Engine.DeleteProfile(env.Ctx, other.ID, unused.ID)
	if err != nil || ok {
		t.Fatalf("foreign profile must report false: %v %v", ok, err)
	}
	ok, err = env.Engine.DeleteProfile(env.Ctx, v.ID, unused.ID)
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = env.Engine.DeleteProfile(env.Ctx, v.ID, unused.ID)
	if err != nil || ok {
		t.Fatalf("second delete must report false: %v %v", ok, err)
	}
}

func TestEmployeeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	other := env.owner(t, domain.RoleOwnerAdmin, "a@example.com")
	agent := env.profile(t, v.ID, "Agent", "bookings:view")
	guide := env.profile(t, v.ID, "Guide", "activities:view")
	foreign := env.profile(t, other.ID, "Foreign", "activities:view")

	_, err := env.Engine.CreateEmployee(env.Ctx, v.ID, engine.EmployeeCreateOptions{Email: "x@example.com", ProfileID: foreign.ID})
	expectKind(t, err, engine.KindNotFound)
	_, err = env.Engine.CreateEmployee(env.Ctx, v.ID, engine.EmployeeCreateOptions{Email: "x@example.com"})
	expectKind(t, err, engine.KindNotFound)

	e := env.employee(t, v.ID, "e@example.com", agent.ID)
	_, err = env.Engine.CreateEmployee(env.Ctx, v.ID, engine.EmployeeCreateOptions{Email: "E@example.com", ProfileID: agent.ID})
	expectKind(t, err, engine.KindDuplicateIdentity)
	_, err = env.Engine.CreateEmployee(env.Ctx, v.ID, engine.EmployeeCreateOptions{Email: "a@example.com", ProfileID: agent.ID})
	expectKind(t, err, engine.KindDuplicateIdentity)

	first := "Eve"
	updated, err := env.Engine.UpdateEmployee(env.Ctx, v.ID, e.ID, engine.EmployeeChanges{FirstName: &first, ProfileID: &guide.ID})
	if err != nil {
		t.Fatalf("update employee: %v", err)
	}
	if updated.FirstName != "Eve" || *updated.ProfileID != guide.ID || updated.Email != "e@example.com" {
		t.Fatalf("unexpected employee %+v", updated)
	}
	if eff := env.perms(t, e.ID); !reflect.DeepEqual(eff.Permissions, []string{"activities:view"}) {
		t.Fatalf("reassignment not applied: %+v", eff)
	}
	_, err = env.Engine.UpdateEmployee(env.Ctx, v.ID, e.ID, engine.EmployeeChanges{ProfileID: &foreign.ID})
	expectKind(t, err, engine.KindNotFound)
	taken := "v@example.com"
	_, err = env.Engine.UpdateEmployee(env.Ctx, v.ID, e.ID, engine.EmployeeChanges{Email: &taken})
	expectKind(t, err, engine.KindDuplicateIdentity)
	_, err = env.Engine.UpdateEmployee(env.Ctx, other.ID, e.ID, engine.EmployeeChanges{FirstName: &first})
	expectKind(t, err, engine.KindNotFound)

	list, err := env.Engine.ListEmployees(env.Ctx, v.ID)
	if err != nil || len(list) != 1 || list[0].ID != e.ID {
		t.Fatalf("list employees: %+v %v", list, err)
	}
	if _, err := env.Engine.ListEmployees(env.Ctx, e.ID); engine.KindOf(err) != engine.KindForbidden {
		t.Fatalf("employees cannot list employees: %v", err)
	}

	ok, err := env.Engine.DeleteEmployee(env.Ctx, other.ID, e.ID)
	if err != nil || ok {
		t.Fatalf("foreign delete must report false: %v %v", ok, err)
	}
	ok, err = env.Engine.DeleteEmployee(env.Ctx, v.ID, e.ID)
	if err != nil || !ok {
		t.Fatalf("delete employee: %v %v", ok, err)
	}
	ok, err = env.Engine.DeleteEmployee(env.Ctx, v.ID, e.ID)
	if err != nil || ok {
		t.Fatalf("second delete must report false: %v %v", ok, err)
	}
	if ok, err := env.Engine.DeleteProfile(env.Ctx, v.ID, guide.ID); err != nil || !ok {
		t.Fatalf("profile should be free after employee deletion: %v %v", ok, err)
	}
}

func TestSuccessAudit(t *testing.T) {
	env := newTestEnv(t)
	v := env.owner(t, domain.RoleOwnerVendor, "v@example.com")
	p := env.profile(t, v.ID, "Agent", "bookings:view")
	env.employee(t, v.ID, "e@example.com", p.ID)

	entries, err := env.Engine.AuditLog(env.Ctx, engine.AuditQuery{ActorID: v.ID})
	if err != nil {
		t.Fatal(err)
	}
	var actions []string
	for _, e := range entries {
		if e.Status != domain.AuditSuccess || e.ActorRole != domain.RoleOwnerVendor {
			t.Fatalf("unexpected entry %+v", e)
		}
		actions = append(actions, e.Action)
	}
	want := []string{"employee.create", "profile.create", "actor.register"}
	if !reflect.DeepEqual(actions, want) {
		t.Fatalf("expected %v newest first, got %v", want, actions)
	}
	if entries[1].TargetID != p.ID || entries[0].TS != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected audit detail %+v", entries[:2])
	}
	if _, err := env.Engine.AuditLog(env.Ctx, engine.AuditQuery{Status: "maybe"}); engine.KindOf(err) != engine.KindInvalid {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}
