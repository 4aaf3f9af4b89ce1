package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/installers/k3s"
)

// -----------------------------------------------------------------------------
// Root Cmd
// -----------------------------------------------------------------------------

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $RAIBID_HOME/config.yaml)")
	rootCmd.PersistentFlags().String("kubeconfig", k3s.KubeconfigPath, "path to the cluster kubeconfig")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	cobra.CheckErr(viper.BindPFlag("kubeconfig", rootCmd.PersistentFlags().Lookup("kubeconfig")))
	cobra.CheckErr(viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level")))
	cobra.CheckErr(viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format")))
}

var rootCmd = &cobra.Command{
	Use:   "raibid",
	Short: "raibid provisions and validates the self-hosted CI stack",
	Long: `raibid provisions a self-hosted CI stack (k3s, Redis, Gitea, KEDA, Flux)
on a single host and scales ephemeral build agents against a Redis Streams
job queue.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		configureLogging()
	},
}

// Execute runs the CLI. Installer failures surface the component, phase,
// reason and suggestion on stderr and exit non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RAIBID")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := infra.Dir()
		if err != nil {
			return
		}
		viper.SetConfigFile(filepath.Join(dir, "config.yaml"))
	}
	// the config file is optional
	_ = viper.ReadInConfig()
}

func configureLogging() {
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if viper.GetString("log-format") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func logger() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}
