package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raibid-labs/raibid/internal/retry"
	"github.com/raibid-labs/raibid/internal/state"
	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

// -----------------------------------------------------------------------------
// Setup Subcommand
// -----------------------------------------------------------------------------

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().Bool("dry-run", false, "print the install plan without changing anything")
}

var setupCmd = &cobra.Command{
	Use:   "setup <component|all> [component...]",
	Short: "install and validate components in dependency order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry-run")
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

		ordered, err := infra.Order(requested, st.InstalledSet())
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Println("install plan:")
			for n, c := range ordered {
				deps := infra.Dependencies(c)
				if len(deps) == 0 {
					fmt.Printf("  %d. %s\n", n+1, c)
					continue
				}
				fmt.Printf("  %d. %s (requires %s)\n", n+1, c, joinComponents(deps))
			}
			return nil
		}

		// interrupts cancel at the next retry or poll iteration and
		// still roll back the in-flight component
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := logger()
		client := cluster.NewLazy(viper.GetString("kubeconfig"), log)
		runner := infra.NewRunner(infra.NewValidator(log), client, retry.Runner{}, log)

		for n, c := range ordered {
			inst, err := buildInstaller(c, client, retry.Runner{}, log)
			if err != nil {
				return err
			}

			result, err := runner.Run(ctx, inst)
			if err != nil {
				if remaining := ordered[n+1:]; len(remaining) > 0 {
					fmt.Fprintf(os.Stderr, "never attempted: %s\n", joinComponents(remaining))
				}
				return err
			}

			if err := store.MarkInstalled(state.ComponentState{
				Component:   c,
				InstalledAt: result.StartedAt,
				RunID:       result.RunID,
				Namespace:   componentNamespace(c),
			}); err != nil {
				return fmt.Errorf("%s installed but state could not be persisted: %w", c, err)
			}
			fmt.Printf("%s installed successfully\n", c)
		}
		return nil
	},
}

func joinComponents(components []infra.Component) string {
	names := make([]string, 0, len(components))
	for _, c := range components {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}
