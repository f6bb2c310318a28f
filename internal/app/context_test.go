package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tripauth/internal/domain"
	"tripauth/internal/engine"
)

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	custom := "catalog:\n  tours:\n    view: {}\nowner_profile:\n  name: Boss\n"
	if err := os.WriteFile(filepath.Join(dir, "tripauth.yml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	rt, err := Open(context.Background(), dir, "error", "json")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if got := rt.Engine.PermissionCatalog().Permissions(); len(got) != 1 || got[0] != "tours:view" {
		t.Fatalf("unexpected catalog %v", got)
	}
	o, err := rt.Engine.RegisterActor(context.Background(), engine.RegisterOptions{Role: domain.RoleOwnerAdmin, Email: "o@example.com"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	p, err := rt.Engine.GetProfile(context.Background(), o.ID, *o.ProfileID)
	if err != nil || p.Name != "Boss" {
		t.Fatalf("owner profile should use configured name: %+v %v", p, err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".tripauth", "tripauth.db")); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}
