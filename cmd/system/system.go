package system

import "github.com/spf13/cobra"

// NewSystemCommand groups the setup commands an operator runs before the
// first `http start`: init, migrate, then token for smoke tests.
func NewSystemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "system",
		Aliases: []string{"sys"},
		Short:   "Database setup, migrations, tokens and CLI docs",
	}
	cmd.AddCommand(
		NewInitCommand(),
		NewMigrateCommand(),
		NewTokenCommand(),
		NewGenDocsCommand(),
	)
	return cmd
}
