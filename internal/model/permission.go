package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionAssessmentsRead allows viewing assessment lists and details.
	PermissionAssessmentsRead Permission = "assessments:read"

	// PermissionAssessmentsMonitor allows attaching to the live proctoring feed.
	PermissionAssessmentsMonitor Permission = "assessments:monitor"
)

// AllPermissions returns every known permission code.
func AllPermissions() []Permission {
	return []Permission{
		PermissionAssessmentsRead,
		PermissionAssessmentsMonitor,
	}
}
