package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers fetching documents, versions, jobs and presence.
	ActionRead Action = "read"
	// ActionWrite covers saving, templates, suggestions and restores.
	ActionWrite Action = "write"
	// ActionExport covers enqueuing and downloading exports.
	ActionExport Action = "export"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionExport
	case RoleViewer:
		return action == ActionRead || action == ActionExport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
