package models

// SystemPermissions returns the global permission catalogue seeded at
// startup, keyed by "resource:action"
func SystemPermissions() map[string]string {
	return map[string]string{
		"organization:read":    "View organization settings and profile",
		"organization:update":  "Update organization settings",
		"organization:destroy": "Delete the organization",
		"organization:manage":  "Full control over the organization",

		"task:read":    "View tasks",
		"task:create":  "Create tasks",
		"task:update":  "Update tasks",
		"task:destroy": "Delete tasks",
		"task:manage":  "Full control over tasks",
		"task:assign":  "Assign tasks to members",

		"sprint:read":    "View sprints",
		"sprint:create":  "Create sprints",
		"sprint:update":  "Update sprints",
		"sprint:destroy": "Delete sprints",
		"sprint:manage":  "Full control over sprints",

		"roadmap:read":    "View roadmaps",
		"roadmap:create":  "Create roadmaps",
		"roadmap:update":  "Update roadmaps",
		"roadmap:destroy": "Delete roadmaps",
		"roadmap:manage":  "Full control over roadmaps",
		"roadmap:export":  "Export roadmap data",

		"membership:read":    "View members",
		"membership:invite":  "Invite new members",
		"membership:update":  "Change member roles",
		"membership:destroy": "Remove members",
		"membership:manage":  "Full control over memberships",

		"role:read":   "View roles and their permissions",
		"role:manage": "Create, update and delete roles",

		"dashboard:read":   "View dashboards",
		"dashboard:create": "Create dashboards",
		"dashboard:update": "Update dashboards",
		"dashboard:manage": "Full control over dashboards",
	}
}

// SystemRoleDefinition describes a role seeded per tenant when the tenant
// opts into the dynamic permission graph
type SystemRoleDefinition struct {
	Name        string
	Description string
	Priority    int
	Permissions []string
}

// SystemRoles returns the per-tenant system roles mirroring the legacy
// fixed roles. System roles are not editable.
func SystemRoles() []SystemRoleDefinition {
	return []SystemRoleDefinition{
		{
			Name:        RoleOwner,
			Description: "Full control over the organization and all resources",
			Priority:    PriorityOwnerLevel,
			Permissions: []string{
				"organization:manage", "task:manage", "sprint:manage",
				"roadmap:manage", "membership:manage", "role:manage",
				"dashboard:manage",
			},
		},
		{
			Name:        RoleAdmin,
			Description: "Administers resources and members, cannot delete the organization",
			Priority:    PriorityAdminLevel,
			Permissions: []string{
				"organization:read", "organization:update",
				"task:manage", "sprint:manage", "roadmap:manage",
				"membership:read", "membership:invite", "membership:update",
				"role:read", "dashboard:manage",
			},
		},
		{
			Name:        RoleMember,
			Description: "Works on tasks, sprints and roadmaps",
			Priority:    40,
			Permissions: []string{
				"organization:read",
				"task:read", "task:create", "task:update",
				"sprint:read", "sprint:create", "sprint:update",
				"roadmap:read", "roadmap:create",
				"membership:read", "dashboard:read", "dashboard:create",
			},
		},
		{
			Name:        RoleViewer,
			Description: "Read-only access",
			Priority:    10,
			Permissions: []string{
				"organization:read", "task:read", "sprint:read",
				"roadmap:read", "membership:read", "dashboard:read",
			},
		},
	}
}
