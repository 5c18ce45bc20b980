package shared

import (
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Tenant Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TenantID scopes a classroom: the set of courses, tasks and users that
// share one namespace.
type TenantID string

// GlobalTenant is the single shared namespace used when tenants are not
// separated per guild.
const GlobalTenant TenantID = "global"

// String returns the string representation.
func (t TenantID) String() string {
	return string(t)
}

// IsZero reports whether the tenant is unset.
func (t TenantID) IsZero() bool {
	return strings.TrimSpace(string(t)) == ""
}

// OrGlobal returns the tenant, or GlobalTenant if unset.
func (t TenantID) OrGlobal() TenantID {
	if t.IsZero() {
		return GlobalTenant
	}
	return t
}

// ═══════════════════════════════════════════════════════════════════════════
// Course bucket
// ═══════════════════════════════════════════════════════════════════════════

// GeneralCourse is the default bucket for tasks without a course and the
// default favorite course of a user.
const GeneralCourse = "General"

// IsGeneralCourse reports whether code names the default bucket.
func IsGeneralCourse(code string) bool {
	code = strings.TrimSpace(code)
	return code == "" || strings.EqualFold(code, GeneralCourse)
}
