package authorize

import "slices"

// Policy rows are: p, role, domain, resource, action, eft. Subjects are the
// actor roles carried in the access token; every engine rule lives in the
// sys domain.
type (
	Role         string
	Domain       string
	Resource     string
	Action       string
	PolicyEffect string
)

const (
	RolePatient   Role = "patient"
	RoleTherapist Role = "therapist"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

const (
	DomainSys      Domain = "sys"
	WildcardDomain Domain = "*"
)

const (
	ResourceAppointment Resource = "appointment"
	ResourcePayment     Resource = "payment"
	ResourceBalance     Resource = "balance"
	ResourcePayout      Resource = "payout"
	ResourceMaintenance Resource = "maintenance"

	WildcardResource Resource = "*"
)

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	// ActionManage is for acting on someone else's record: another user's
	// balance, marking sessions paid for any appointment.
	ActionManage  Action = "manage"
	ActionExecute Action = "execute"

	WildcardAction Action = "*"
)

const (
	EffectAllow PolicyEffect = "allow"
	EffectDeny  PolicyEffect = "deny"
)

var (
	roles     = []Role{RolePatient, RoleTherapist, RoleAdmin, RoleSystem}
	resources = []Resource{ResourceAppointment, ResourcePayment, ResourceBalance, ResourcePayout, ResourceMaintenance}
	actions   = []Action{ActionCreate, ActionRead, ActionUpdate, ActionManage, ActionExecute}
)

func (r Role) Valid() bool     { return slices.Contains(roles, r) }
func (r Resource) Valid() bool { return slices.Contains(resources, r) }
func (a Action) Valid() bool   { return slices.Contains(actions, a) }

// Roles lists every role a token may carry.
func Roles() []Role { return slices.Clone(roles) }

type PermissionPolicy struct {
	Subject Role
	Domain  Domain
	Object  Resource
	Action  Action
	Effect  PolicyEffect
}

func (p PermissionPolicy) row() []any {
	return []any{string(p.Subject), string(p.Domain), string(p.Object), string(p.Action), string(p.Effect)}
}
