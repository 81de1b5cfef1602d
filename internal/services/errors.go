package services

import "errors"

var (
	// ErrNotFound means the referenced entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrSystemRole means the operation would modify a system role
	ErrSystemRole = errors.New("system roles cannot be modified")
	// ErrRoleNotEditable means the role is locked against edits
	ErrRoleNotEditable = errors.New("role is not editable")
	// ErrInvalidWindow means a delegation window is malformed
	ErrInvalidWindow = errors.New("delegation window is invalid")
	// ErrForbidden means the acting principal lacks the authority for
	// the operation
	ErrForbidden = errors.New("operation not permitted")
	// ErrDuplicateMembership means the user is already a member
	ErrDuplicateMembership = errors.New("user is already a member of tenant")
	// ErrInvalidRole means a role assignment is malformed
	ErrInvalidRole = errors.New("invalid role assignment")
	// ErrNotMember means the target user has no active membership in the
	// tenant
	ErrNotMember = errors.New("user is not a member of tenant")
)

// legacyRoleNames is the closed set of legacy role names accepted on
// membership changes
var legacyRoleNames = map[string]bool{
	"owner":  true,
	"admin":  true,
	"member": true,
	"viewer": true,
}
