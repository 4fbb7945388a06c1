package rbac

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRole is returned when a grant names a role the role table does
// not define.
var ErrInvalidRole = errors.New("invalid role")

// Role is a named bundle of internal permissions. The role table is fixed
// at process start; grants reference roles by name only.
type Role struct {
	Name        string               `yaml:"name"`
	Permissions []InternalPermission `yaml:"permissions"`
}

// Built-in role names
const (
	RoleOrgReadMetadata         = "organization_read_metadata"
	RoleOrgReadEnrollments      = "organization_read_enrollments"
	RoleOrgReadWriteEnrollments = "organization_read_write_enrollments"
	RoleOrgReadReports          = "organization_read_reports"

	RoleProgramReadMetadata         = "program_read_metadata"
	RoleProgramReadEnrollments      = "program_read_enrollments"
	RoleProgramReadWriteEnrollments = "program_read_write_enrollments"
	RoleProgramReadReports          = "program_read_reports"

	RoleJobGlobalReader = "job_global_reader"
)

// BuiltInRoles returns the default role definitions. Each enrollment role
// includes metadata read so a partner that can see enrollments can also see
// the program they belong to.
func BuiltInRoles() []Role {
	return []Role{
		{
			Name:        RoleOrgReadMetadata,
			Permissions: []InternalPermission{PermOrgReadMetadata},
		},
		{
			Name:        RoleOrgReadEnrollments,
			Permissions: []InternalPermission{PermOrgReadMetadata, PermOrgReadEnrollments},
		},
		{
			Name: RoleOrgReadWriteEnrollments,
			Permissions: []InternalPermission{
				PermOrgReadMetadata, PermOrgReadEnrollments, PermOrgWriteEnrollments,
			},
		},
		{
			Name:        RoleOrgReadReports,
			Permissions: []InternalPermission{PermOrgReadMetadata, PermOrgReadReports},
		},
		{
			Name:        RoleProgramReadMetadata,
			Permissions: []InternalPermission{PermProgramReadMetadata},
		},
		{
			Name:        RoleProgramReadEnrollments,
			Permissions: []InternalPermission{PermProgramReadMetadata, PermProgramReadEnrollments},
		},
		{
			Name: RoleProgramReadWriteEnrollments,
			Permissions: []InternalPermission{
				PermProgramReadMetadata, PermProgramReadEnrollments, PermProgramWriteEnrollments,
			},
		},
		{
			Name:        RoleProgramReadReports,
			Permissions: []InternalPermission{PermProgramReadMetadata, PermProgramReadReports},
		},
		{
			Name:        RoleJobGlobalReader,
			Permissions: []InternalPermission{PermJobGlobalRead},
		},
	}
}

// RoleTable is the immutable set of roles known to the process
type RoleTable struct {
	roles map[string]Role
}

// NewRoleTable builds a role table and validates that every role references
// only known internal permissions.
func NewRoleTable(roles []Role) (*RoleTable, error) {
	table := &RoleTable{roles: make(map[string]Role, len(roles))}
	for _, role := range roles {
		if role.Name == "" {
			return nil, fmt.Errorf("role with empty name")
		}
		if _, exists := table.roles[role.Name]; exists {
			return nil, fmt.Errorf("duplicate role %q", role.Name)
		}
		for _, p := range role.Permissions {
			if !isKnownPermission(p) {
				return nil, fmt.Errorf("role %q references unknown permission %q", role.Name, p)
			}
		}
		table.roles[role.Name] = role
	}
	return table, nil
}

// Lookup returns the role with the given name
func (t *RoleTable) Lookup(name string) (Role, error) {
	role, ok := t.roles[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrInvalidRole, name)
	}
	return role, nil
}

// Names returns the names of all defined roles
func (t *RoleTable) Names() []string {
	names := make([]string, 0, len(t.roles))
	for name := range t.roles {
		names = append(names, name)
	}
	return names
}

type rolesFile struct {
	Roles []Role `yaml:"roles"`
}

// LoadRoleTable builds the role table from the built-in definitions,
// optionally overlaid with roles from a YAML file. Overrides replace
// built-in roles of the same name; new names are added. The file is read
// once at startup; the table never changes afterward.
func LoadRoleTable(path string) (*RoleTable, error) {
	roles := BuiltInRoles()
	if path == "" {
		return NewRoleTable(roles)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}

	var overrides rolesFile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse roles file: %w", err)
	}

	byName := make(map[string]int, len(roles))
	for i, role := range roles {
		byName[role.Name] = i
	}
	for _, override := range overrides.Roles {
		if i, ok := byName[override.Name]; ok {
			roles[i] = override
		} else {
			roles = append(roles, override)
		}
	}

	return NewRoleTable(roles)
}
