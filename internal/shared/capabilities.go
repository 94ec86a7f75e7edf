package shared

// Capability names declared per route. The catalog is deliberately static so
// the set of authorizable capabilities stays auditable in one place.
const (
	CapRolesList   = "roles.list"
	CapRolesCreate = "roles.create"
	CapRolesUpdate = "roles.update"
	CapRolesDelete = "roles.delete"

	CapModulesList   = "modules.list"
	CapModulesCreate = "modules.create"
	CapModulesUpdate = "modules.update"
	CapModulesDelete = "modules.delete"

	CapAccessList   = "access.list"
	CapAccessCreate = "access.create"
	CapAccessUpdate = "access.update"
	CapAccessDelete = "access.delete"

	CapPermissionsList   = "permissions.list"
	CapPermissionsUpdate = "permissions.update"

	CapAdminsList   = "admins.list"
	CapAdminsUpdate = "admins.update"
)

// Capabilities lists every capability the catalog seeds at bootstrap.
func Capabilities() []string {
	return []string{
		CapRolesList,
		CapRolesCreate,
		CapRolesUpdate,
		CapRolesDelete,
		CapModulesList,
		CapModulesCreate,
		CapModulesUpdate,
		CapModulesDelete,
		CapAccessList,
		CapAccessCreate,
		CapAccessUpdate,
		CapAccessDelete,
		CapPermissionsList,
		CapPermissionsUpdate,
		CapAdminsList,
		CapAdminsUpdate,
	}
}
