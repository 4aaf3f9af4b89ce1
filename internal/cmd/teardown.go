package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raibid-labs/raibid/internal/retry"
	"github.com/raibid-labs/raibid/internal/state"
	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

// -----------------------------------------------------------------------------
// Teardown Subcommand
// -----------------------------------------------------------------------------

func init() {
	rootCmd.AddCommand(teardownCmd)
	teardownCmd.Flags().Bool("dry-run", false, "print the removal plan without changing anything")
	teardownCmd.Flags().Bool("force", false, "remove even when installed components still depend on it")
}

var teardownCmd = &cobra.Command{
	Use:   "teardown <component|all> [component...]",
	Short: "remove components in reverse dependency order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return err
		}
		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		requested, err := parseComponents(args)
		if err != nil {
			return err
		}

		store, err := state.NewStore()
		if err != nil {
			return err
		}
		st, err := store.Load()
		if err != nil {
			return err
		}
		installed := st.InstalledSet()

		// removal happens in reverse install-priority order so
		// dependents go before their dependencies
		ordered := make([]infra.Component, 0, len(requested))
		want := make(map[infra.Component]bool, len(requested))
		for _, c := range requested {
			want[c] = true
		}
		for n := len(infra.AllComponents) - 1; n >= 0; n-- {
			if c := infra.AllComponents[n]; want[c] {
				ordered = append(ordered, c)
			}
		}

		if !force {
			for _, c := range ordered {
				for _, dependent := range infra.Dependents(c) {
					if installed[dependent] && !want[dependent] {
						return fmt.Errorf("cannot remove %s: installed component %s depends on it (use --force to override, or tear it down first)", c, dependent)
					}
				}
			}
		}

		if dryRun {
			fmt.Println("removal plan:")
			for n, c := range ordered {
				fmt.Printf("  %d. %s\n", n+1, c)
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := logger()
		client := cluster.NewLazy(viper.GetString("kubeconfig"), log)

		for _, c := range ordered {
			inst, err := buildInstaller(c, client, retry.Runner{}, log)
			if err != nil {
				return err
			}
			log.WithField("component", c).Info("tearing down")
			if err := inst.Uninstall(ctx); err != nil {
				return err
			}
			if err := store.MarkRemoved(c); err != nil {
				return err
			}
			fmt.Printf("%s removed\n", c)
		}
		return nil
	},
}
