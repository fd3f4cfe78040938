package rbac

// RolePermissions is the default policy. A trailing * matches a permission prefix.
var RolePermissions = map[string][]string{
	"student": {
		"assessment:take",
		"assessment:view",
		"assessment:cancel",
	},
	"teacher": {
		"assessment:view",
		"assessment:history-all",
		"assessment:sessions-all",
		"bank:*",
		"calibration:*",
		"users:bulk_upsert",
		"users:list",
	},
	"admin": {
		"*",
	},
}
