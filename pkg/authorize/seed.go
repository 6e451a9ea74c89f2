package authorize

import (
	"context"
	"log/slog"
)

// DefaultPolicies is the baseline role matrix. Ownership of a specific
// appointment or balance is checked by the handlers on top of this.
func DefaultPolicies() []PermissionPolicy {
	allow := func(r Role, o Resource, a Action) PermissionPolicy {
		return PermissionPolicy{Subject: r, Domain: DomainSys, Object: o, Action: a, Effect: EffectAllow}
	}
	return []PermissionPolicy{
		allow(RoleAdmin, WildcardResource, WildcardAction),

		allow(RolePatient, ResourceAppointment, ActionRead),
		allow(RolePatient, ResourceAppointment, ActionUpdate),
		allow(RolePatient, ResourcePayment, ActionRead),
		allow(RolePatient, ResourcePayment, ActionCreate),
		allow(RolePatient, ResourceBalance, ActionRead),

		allow(RoleTherapist, ResourceAppointment, ActionRead),
		allow(RoleTherapist, ResourceAppointment, ActionUpdate),
		allow(RoleTherapist, ResourcePayment, ActionRead),
		allow(RoleTherapist, ResourcePayout, ActionRead),

		allow(RoleSystem, ResourceAppointment, ActionManage),
		allow(RoleSystem, ResourcePayment, ActionManage),
		allow(RoleSystem, ResourceBalance, ActionManage),
		allow(RoleSystem, ResourcePayout, ActionManage),
		allow(RoleSystem, ResourceMaintenance, ActionExecute),
	}
}

// SeedDefaultPolicies adds DefaultPolicies; existing rows are left alone.
func SeedDefaultPolicies(ctx context.Context, auth IAuthorization) error {
	logger := slog.Default()

	policies := DefaultPolicies()
	for _, p := range policies {
		added, err := auth.AddPermission(ctx, p)
		if err != nil {
			logger.Error("authorize: failed to add policy", "policy", p, "err", err)
			return err
		}
		if added {
			logger.Debug("authorize: added policy", "role", p.Subject, "resource", p.Object, "action", p.Action)
		}
	}

	logger.Info("authorize: seeded default policies", "count", len(policies))
	return nil
}
