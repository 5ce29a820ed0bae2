// Package rbac maps team roles to permissions.
package rbac

type Role string
type Permission string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

const (
	PermAll              Permission = "*"
	PermManageMembers    Permission = "manage_members"
	PermEditTeamSettings Permission = "edit_team_settings"
	PermViewTeam         Permission = "view_team"
	PermCreateContent    Permission = "create_content"
)

// ladder runs from least to most privileged. Owner is outside it: owners
// are never promoted into or demoted out of.
var ladder = []Role{RoleGuest, RoleMember, RoleAdmin}

func Can(role Role, perm Permission) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleAdmin:
		return perm == PermManageMembers || perm == PermEditTeamSettings || perm == PermViewTeam || perm == PermCreateContent
	case RoleMember:
		return perm == PermViewTeam || perm == PermCreateContent
	case RoleGuest:
		return perm == PermViewTeam
	default:
		return false
	}
}

// Permissions lists what role grants.
func Permissions(role Role) []Permission {
	switch role {
	case RoleOwner:
		return []Permission{PermAll}
	case RoleAdmin:
		return []Permission{PermManageMembers, PermEditTeamSettings, PermViewTeam, PermCreateContent}
	case RoleMember:
		return []Permission{PermViewTeam, PermCreateContent}
	case RoleGuest:
		return []Permission{PermViewTeam}
	default:
		return nil
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest:
		return true
	}
	return false
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest:
		return Role(role)
	default:
		return RoleGuest
	}
}

// Promote returns the next role up the ladder.
func Promote(role Role) (Role, bool) {
	for i, r := range ladder[:len(ladder)-1] {
		if r == role {
			return ladder[i+1], true
		}
	}
	return role, false
}

// Demote returns the next role down the ladder.
func Demote(role Role) (Role, bool) {
	for i, r := range ladder[1:] {
		if r == role {
			return ladder[i], true
		}
	}
	return role, false
}
