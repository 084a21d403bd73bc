package rbac

import "github.com/timeers/root-website-sub000/internal/store"

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleDesigner Role = "designer"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead      Action = "read"
	ActionEditLaws  Action = "edit_laws"
	ActionSyncRules Action = "sync_rules"
	ActionAdmin     Action = "admin"
)

// Actor is the caller identity handed in by the surrounding site.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleDesigner:
		return action == ActionRead || action == ActionEditLaws
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleDesigner, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// CanEditGroup gates every law mutation. Admins may edit anything. Groups
// without a backing content item of type Official or Appendix are admin-only;
// every other group may be edited by the designer of its content item.
func CanEditGroup(actor Actor, group store.LawGroup) bool {
	if actor.IsAdmin() {
		return true
	}
	if !Can(actor.Role, ActionEditLaws) || group.AdminScoped() {
		return false
	}
	if actor.ID == "" || group.DesignerID == nil {
		return false
	}
	return *group.DesignerID == actor.ID
}
