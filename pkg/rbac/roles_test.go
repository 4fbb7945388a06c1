package rbac

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltInRolesValid(t *testing.T) {
	table, err := NewRoleTable(BuiltInRoles())
	if err != nil {
		t.Fatalf("built-in roles should build a valid table: %v", err)
	}

	role, err := table.Lookup(RoleOrgReadWriteEnrollments)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(role.Permissions) != 3 {
		t.Errorf("expected 3 permissions for %s, got %d", role.Name, len(role.Permissions))
	}
}

func TestLookupUnknownRole(t *testing.T) {
	table, err := NewRoleTable(BuiltInRoles())
	if err != nil {
		t.Fatalf("NewRoleTable failed: %v", err)
	}

	_, err = table.Lookup("superuser")
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func TestNewRoleTableRejectsUnknownPermission(t *testing.T) {
	_, err := NewRoleTable([]Role{
		{Name: "bad-role", Permissions: []InternalPermission{"fly_to_the_moon"}},
	})
	if err == nil {
		t.Fatal("expected error for unknown permission")
	}
}

func TestNewRoleTableRejectsDuplicates(t *testing.T) {
	_, err := NewRoleTable([]Role{
		{Name: "dup", Permissions: []InternalPermission{PermOrgReadMetadata}},
		{Name: "dup", Permissions: []InternalPermission{PermOrgReadReports}},
	})
	if err == nil {
		t.Fatal("expected error for duplicate role name")
	}
}

func TestLoadRoleTableWithOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	content := `
roles:
  - name: organization_read_metadata
    permissions:
      - organization_read_metadata
      - organization_read_reports
  - name: auditor
    permissions:
      - organization_read_reports
      - program_read_reports
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write roles file: %v", err)
	}

	table, err := LoadRoleTable(path)
	if err != nil {
		t.Fatalf("LoadRoleTable failed: %v", err)
	}

	// Override replaces the built-in definition.
	role, err := table.Lookup(RoleOrgReadMetadata)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(role.Permissions) != 2 {
		t.Errorf("expected overridden role to have 2 permissions, got %d", len(role.Permissions))
	}

	// New role is added alongside built-ins.
	if _, err := table.Lookup("auditor"); err != nil {
		t.Errorf("expected auditor role to exist: %v", err)
	}
	if _, err := table.Lookup(RoleJobGlobalReader); err != nil {
		t.Errorf("built-in roles should survive an overlay: %v", err)
	}
}

func TestLoadRoleTableWithoutFile(t *testing.T) {
	table, err := LoadRoleTable("")
	if err != nil {
		t.Fatalf("LoadRoleTable failed: %v", err)
	}
	if len(table.Names()) != len(BuiltInRoles()) {
		t.Errorf("expected %d roles, got %d", len(BuiltInRoles()), len(table.Names()))
	}
}

func TestLoadRoleTableBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	if err := os.WriteFile(path, []byte("roles: {not a list}"), 0o600); err != nil {
		t.Fatalf("failed to write roles file: %v", err)
	}

	if _, err := LoadRoleTable(path); err == nil {
		t.Error("expected parse error")
	}

	if _, err := LoadRoleTable(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected read error for missing file")
	}
}
