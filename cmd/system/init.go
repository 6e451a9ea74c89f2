package system

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/pkg/database"
)

const initTimeout = time.Minute

func NewInitCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the payout and policy databases if they are missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}

			names := database.DatabaseNames(cfg)
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "would create on %s:%d: %s\n",
					cfg.Database.Host, cfg.Database.Port, strings.Join(names, ", "))
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), initTimeout)
			defer cancel()
			if err := database.InitializeDatabases(ctx, cfg); err != nil {
				return fmt.Errorf("initialize databases: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "databases ready: %s\n", strings.Join(names, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the database names without connecting")
	return cmd
}
