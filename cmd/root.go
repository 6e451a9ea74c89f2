package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpcmd "github.com/Alijeyrad/carebook_backend/cmd/http"
	jobscmd "github.com/Alijeyrad/carebook_backend/cmd/jobs"
	systemcmd "github.com/Alijeyrad/carebook_backend/cmd/system"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "carebook",
		Short: "Carebook appointment lifecycle and session-balance engine.",
		Long: `Carebook drives therapy appointments from booking to payout.
It reconciles payments with Stripe, keeps each patient's session balance
and settles therapist earnings on a weekly schedule.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "config.yaml", "config file path")
	root.AddCommand(
		systemcmd.NewSystemCommand(),
		httpcmd.NewHTTPCommand(),
		jobscmd.NewJobsCommand(),
	)
	return root
}

// Execute runs the CLI. One-shot commands see SIGINT and SIGTERM as a
// cancelled cmd.Context().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
