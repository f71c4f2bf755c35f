package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"student": {
		"session:view",
	},
	"faculty": {
		"evaluation:submit",
		"session:view",
	},
	"admin": {
		"*", // everything
	},
}
