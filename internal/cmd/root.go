package cmd

import (
	"github.com/spf13/cobra"

	"github.com/adamancini/keel/internal/log"
	"github.com/adamancini/keel/internal/output"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	verbose      bool
	quiet        bool
	logOptions   *log.Options
)

// buildInfo is set by Execute.
var buildInfo = versionInfo{Version: "dev", Commit: "none", Date: "unknown"}

func Execute(version, commit, date string) error {
	buildInfo = versionInfo{Version: version, Commit: commit, Date: date}
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keel",
		Short: "Check for, verify and install application updates",
		Long: `keel keeps an installed application up to date.

It reads the application's manifest, checks its update feed, and installs
newer releases only after their signature verifies against the trust key
shipped with the application.`,
		Version:      buildInfo.Version,
		SilenceUsage: true,
	}

	logOptions = log.NewOptions()

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to keel config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")
	logOptions.AddFlags(rootCmd.PersistentFlags())

	// Add subcommands
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newPrefsCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return output.Formats, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd
}
