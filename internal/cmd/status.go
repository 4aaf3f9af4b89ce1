package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raibid-labs/raibid/internal/retry"
	"github.com/raibid-labs/raibid/internal/state"
	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

// -----------------------------------------------------------------------------
// Status Subcommand
// -----------------------------------------------------------------------------

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [component]",
	Short: "show installed components and their live health",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		components := infra.AllComponents
		if len(args) == 1 {
			c, err := infra.ParseComponent(args[0])
			if err != nil {
				return err
			}
			components = []infra.Component{c}
		}

		store, err := state.NewStore()
		if err != nil {
			return err
		}
		st, err := store.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		log := logger()
		client := cluster.NewLazy(viper.GetString("kubeconfig"), log)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COMPONENT\tINSTALLED\tHEALTH\tDETAIL")
		for _, c := range components {
			cs, installed := st.Components[c]
			if !installed {
				fmt.Fprintf(w, "%s\t-\t-\t\n", c)
				continue
			}

			inst, err := buildInstaller(c, client, retry.Runner{}, log)
			if err != nil {
				return err
			}
			result := inst.Checker().Check(ctx)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				c,
				cs.InstalledAt.Local().Format(time.RFC3339),
				result.Status,
				result.Message,
			)
		}
		return w.Flush()
	},
}
