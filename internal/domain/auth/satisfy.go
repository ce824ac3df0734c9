package auth

import "slices"

// Satisfies is the single role-satisfaction predicate used by the guard and the resolver.
// An empty requirement is satisfied by any authenticated principal. Otherwise the principal
// needs one of the required roles, or a coarse type standing in for them: admin covers every
// admin-family role, participant covers only the participant role.
func Satisfies(t CoarseType, roles RoleSet, required []Role) bool {
	if len(required) == 0 {
		return true
	}
	if roles.HasAny(required...) {
		return true
	}
	switch t {
	case TypeAdmin:
		admin := AdminRoles()
		for _, r := range required {
			if slices.Contains(admin, r) {
				return true
			}
		}
	case TypeParticipant:
		return slices.Contains(required, RoleParticipant)
	}
	return false
}

// CanEnterAdmin reports whether the principal may enter the admin namespace: coarse admins
// always may, others need one of adminRoles (AdminRoles() when none are given).
func CanEnterAdmin(t CoarseType, roles RoleSet, adminRoles ...Role) bool {
	if t == TypeAdmin {
		return true
	}
	if len(adminRoles) == 0 {
		adminRoles = AdminRoles()
	}
	return roles.HasAny(adminRoles...)
}
