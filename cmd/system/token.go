package system

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/api/http/middleware"
	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
	pasetotoken "github.com/Alijeyrad/carebook_backend/pkg/paseto"
	redispkg "github.com/Alijeyrad/carebook_backend/pkg/redis"
)

// NewTokenCommand issues an access token for operators and service callers.
// Interactive login lives in the identity service, not here.
func NewTokenCommand() *cobra.Command {
	var (
		userID  string
		role    string
		session bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !authorize.Role(role).Valid() {
				return fmt.Errorf("unknown role %q", role)
			}

			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}

			mgr, err := pasetotoken.NewPasetoManager(cfg)
			if err != nil {
				return fmt.Errorf("failed to create token manager: %w", err)
			}

			var sid *uuid.UUID
			if session {
				id := uuid.Must(uuid.NewV7())
				sid = &id

				rdb, err := redispkg.NewRedisFromCentral(cfg.Redis)
				if err != nil {
					return fmt.Errorf("failed to connect to redis: %w", err)
				}
				defer rdb.Close()

				ttl := time.Duration(cfg.Authentication.SessionTTLMinutes) * time.Minute
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				if err := rdb.Set(ctx, middleware.SessionKey(id.String()), userID, ttl).Err(); err != nil {
					return fmt.Errorf("failed to store session: %w", err)
				}
			}

			token, err := mgr.IssueAccess(userID, role, sid)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id carried in the token")
	cmd.Flags().StringVar(&role, "role", string(authorize.RoleSystem), "patient, therapist, admin or system")
	cmd.Flags().BoolVar(&session, "session", true, "bind the token to a revocable redis session")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
