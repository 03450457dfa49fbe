// Package cli wires configuration, storage, database and downloader into the
// rpmrepo-snapshot commands.
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/e2llm/rpmrepo-snapshot/pkg/config"
	"github.com/e2llm/rpmrepo-snapshot/pkg/logutil"
)

type globalFlags struct {
	configPath string
	logLevel   string
	output     string
}

// NewRootCmd creates the root command.
func NewRootCmd(version string) *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "rpmrepo-snapshot",
		Short: "Snapshot RPM repositories into a deduplicating content store",
		Long: `rpmrepo-snapshot downloads repomd.xml, repodata and RPMs of the configured
repositories, verifies them against their declared checksums, stores them by
content digest and records each snapshot in one database transaction.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch flags.output {
			case "text", "json":
			default:
				return fmt.Errorf("unsupported output %q (text, json)", flags.output)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "rpmrepo-snapshot.yaml", "path to the YAML config")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level from the config")
	rootCmd.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "output format (text, json)")

	rootCmd.AddCommand(newSnapshotCmd(flags))
	rootCmd.AddCommand(newCheckCmd(flags))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return rootCmd
}

// load reads the config and builds the logger it describes.
func (f *globalFlags) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	log, err := logutil.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
