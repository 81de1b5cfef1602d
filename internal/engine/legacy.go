package engine

import (
	"github.com/google/uuid"

	"access-service/internal/models"
)

// legacyAllows is the fixed rule table for tenants that have not moved to
// the dynamic permission graph. Rules, from most to least privileged:
//
//	owner:  everything, including destroying the organization
//	admin:  everything except destroying the organization and modifying
//	        owner memberships
//	member: read and create everywhere; update limited to resources the
//	        member created or is assigned; no destroy, no manage
//	viewer: read only
func legacyAllows(role string, principalID uuid.UUID, action string, res *Resource) bool {
	switch role {
	case models.RoleOwner:
		return true

	case models.RoleAdmin:
		if res.Type == models.ResourceOrganization && action == models.ActionDestroy {
			return false
		}
		if res.Type == models.ResourceMembership && res.TargetRole == models.RoleOwner && action != models.ActionRead {
			return false
		}
		return true

	case models.RoleMember:
		switch action {
		case models.ActionRead, models.ActionCreate:
			return true
		case models.ActionUpdate:
			return ownedBy(principalID, res)
		default:
			return false
		}

	case models.RoleViewer:
		return action == models.ActionRead
	}

	// Unknown legacy role names deny
	return false
}
