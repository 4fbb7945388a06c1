package rbac

import "fmt"

// InternalPermission is the fine-grained permission vocabulary stored on
// roles. Internal permissions distinguish organization-level from
// program-level access so audit records show where authority came from.
type InternalPermission string

const (
	PermOrgReadMetadata     InternalPermission = "organization_read_metadata"
	PermOrgReadEnrollments  InternalPermission = "organization_read_enrollments"
	PermOrgWriteEnrollments InternalPermission = "organization_write_enrollments"
	PermOrgReadReports      InternalPermission = "organization_read_reports"

	PermProgramReadMetadata     InternalPermission = "program_read_metadata"
	PermProgramReadEnrollments  InternalPermission = "program_read_enrollments"
	PermProgramWriteEnrollments InternalPermission = "program_write_enrollments"
	PermProgramReadReports      InternalPermission = "program_read_reports"

	// PermJobGlobalRead lets a subject poll any job regardless of owner.
	PermJobGlobalRead InternalPermission = "job_global_read"
)

// APIPermission is the coarse vocabulary exposed to API callers. Callers
// never see the org/program flavoring of internal permissions.
type APIPermission string

const (
	APIReadMetadata     APIPermission = "read_metadata"
	APIReadEnrollments  APIPermission = "read_enrollments"
	APIWriteEnrollments APIPermission = "write_enrollments"
	APIReadReports      APIPermission = "read_reports"
)

// AllInternalPermissions lists every permission the role table may reference.
var AllInternalPermissions = []InternalPermission{
	PermOrgReadMetadata,
	PermOrgReadEnrollments,
	PermOrgWriteEnrollments,
	PermOrgReadReports,
	PermProgramReadMetadata,
	PermProgramReadEnrollments,
	PermProgramWriteEnrollments,
	PermProgramReadReports,
	PermJobGlobalRead,
}

// internalToAPI maps each internal permission to the API permission it
// satisfies. Internal-only permissions are listed in internalOnly instead.
var internalToAPI = map[InternalPermission]APIPermission{
	PermOrgReadMetadata:         APIReadMetadata,
	PermOrgReadEnrollments:      APIReadEnrollments,
	PermOrgWriteEnrollments:     APIWriteEnrollments,
	PermOrgReadReports:          APIReadReports,
	PermProgramReadMetadata:     APIReadMetadata,
	PermProgramReadEnrollments:  APIReadEnrollments,
	PermProgramWriteEnrollments: APIWriteEnrollments,
	PermProgramReadReports:      APIReadReports,
}

// internalOnly holds permissions that deliberately have no API equivalent.
var internalOnly = map[InternalPermission]bool{
	PermJobGlobalRead: true,
}

// APIPermissionFor returns the API permission an internal permission maps
// to. The second return is false for internal-only permissions.
func APIPermissionFor(p InternalPermission) (APIPermission, bool) {
	api, ok := internalToAPI[p]
	return api, ok
}

// VerifyPermissionMapping checks that the internal-to-API mapping is total:
// every internal permission either maps to an API permission or is marked
// internal-only, and never both. Called at startup; an error here means the
// vocabulary and the mapping have drifted apart.
func VerifyPermissionMapping() error {
	for _, p := range AllInternalPermissions {
		_, mapped := internalToAPI[p]
		if mapped && internalOnly[p] {
			return fmt.Errorf("internal permission %q is both mapped and internal-only", p)
		}
		if !mapped && !internalOnly[p] {
			return fmt.Errorf("internal permission %q has no API mapping", p)
		}
	}
	for p := range internalToAPI {
		if !isKnownPermission(p) {
			return fmt.Errorf("mapping references unknown internal permission %q", p)
		}
	}
	return nil
}

func isKnownPermission(p InternalPermission) bool {
	for _, known := range AllInternalPermissions {
		if known == p {
			return true
		}
	}
	return false
}

// PermissionSet is the result of permission resolution: the set of API
// permissions a subject holds on a target.
type PermissionSet map[APIPermission]bool

// Has reports whether the set contains the given API permission
func (s PermissionSet) Has(p APIPermission) bool {
	return s[p]
}

// List returns the permissions in the set in stable order
func (s PermissionSet) List() []APIPermission {
	var out []APIPermission
	for _, p := range []APIPermission{APIReadMetadata, APIReadEnrollments, APIWriteEnrollments, APIReadReports} {
		if s[p] {
			out = append(out, p)
		}
	}
	return out
}
