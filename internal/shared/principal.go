package shared

import "context"

// Role is a closed enumeration of actor roles. Role strings arriving from
// the auth layer are normalised once at the boundary; everything past that
// point compares typed values, never raw strings.
type Role string

const (
	RoleMember  Role = "MEMBER"
	RoleAdmin   Role = "ADMIN"
	RoleOwner   Role = "OWNER"
	RoleService Role = "SERVICE"
)

// ParseRole maps an external role string onto the closed set. Unknown
// values collapse to RoleMember so an unrecognised role never gains access.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin
	case RoleOwner:
		return RoleOwner
	case RoleService:
		return RoleService
	default:
		return RoleMember
	}
}

// Capability is an atomic permission derived from roles.
type Capability string

const (
	// CapChargeOnBehalf allows charging an invoice owned by another member
	// of the same tenant.
	CapChargeOnBehalf Capability = "billing.charge_on_behalf"
	// CapGenerateInvoices allows running dues and event invoice generation.
	CapGenerateInvoices Capability = "billing.generate"
	// CapRunReminders allows triggering a reminder run.
	CapRunReminders Capability = "billing.reminders"
	// CapViewTenantReports allows tenant-wide reporting reads.
	CapViewTenantReports Capability = "reporting.view"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin:   {CapChargeOnBehalf, CapGenerateInvoices, CapRunReminders, CapViewTenantReports},
	RoleOwner:   {CapChargeOnBehalf, CapGenerateInvoices, CapRunReminders, CapViewTenantReports},
	RoleService: {CapGenerateInvoices, CapRunReminders},
}

// Principal describes the authenticated actor attached to every call.
// Tenant and member identity are never inferred, only passed in.
type Principal struct {
	TenantID int64
	MemberID int64
	Roles    []Role
}

// Can reports whether any of the principal's roles grants the capability.
func (p Principal) Can(cap Capability) bool {
	for _, role := range p.Roles {
		for _, c := range roleCapabilities[role] {
			if c == cap {
				return true
			}
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
