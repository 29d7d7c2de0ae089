package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// NewRootCmd builds the command tree around v. Flags are bound into v so
// the precedence is flag > env > file > default.
func NewRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:          "queued",
		Short:        "Arcana Queue - in-process job queue and worker pool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./queued.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	bindFlag(v, "log.level", root.PersistentFlags(), "log-level")

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newInitCmd())
	root.AddCommand(newValidateCmd(v))
	root.AddCommand(versionCmd)
	return root
}

// Execute is the entry point called from cmd/queued/main.go.
func Execute() {
	if err := NewRootCmd(viper.GetViper()).Execute(); err != nil {
		os.Exit(1)
	}
}

func bindFlag(v *viper.Viper, viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := v.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
