package authorize

import "github.com/Alijeyrad/carebook_backend/config"

const defaultModelPath = "casbin_model.conf"

type Config struct {
	CasbinModelPath string
	// EnableAudit wraps the enforcer in AuditedAuthorization.
	EnableAudit bool
	// PolicySyncEnabled attaches the Postgres LISTEN/NOTIFY watcher so a
	// policy change on one replica reloads the others.
	PolicySyncEnabled bool
	// HealthCheckEnabled makes readiness fail after a broken policy reload.
	HealthCheckEnabled bool
}

func FromCentralConfig(c config.AuthorizationConfig) Config {
	cfg := Config{
		CasbinModelPath:    c.CasbinModelPath,
		EnableAudit:        c.EnableAudit,
		PolicySyncEnabled:  c.PolicySyncEnabled,
		HealthCheckEnabled: c.HealthCheckEnabled,
	}
	if cfg.CasbinModelPath == "" {
		cfg.CasbinModelPath = defaultModelPath
	}
	return cfg
}
