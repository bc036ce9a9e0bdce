package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lmbridge/lmbridge/internal/cli"
	"github.com/lmbridge/lmbridge/internal/config"
	"github.com/lmbridge/lmbridge/pkg/fs"
)

var rootCmd = &cobra.Command{
	Use:   "lmbridge",
	Short: "LM Bridge - Anthropic Messages front-end for OpenAI-compatible backends",
	Long: `LM Bridge is a translating proxy that accepts Anthropic Messages API
requests and drives OpenAI-compatible backends such as LMStudio and MLX
servers. Clients keep speaking the Anthropic protocol while local or
remote OpenAI-style endpoints do the serving.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			logrus.SetLevel(logrus.TraceLevel)
		}
	},
}

// Build information variables
var (
	// Set by compiler via -ldflags
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
	platform  = "unknown"

	// Global configuration flags
	configDir  string
	configFile string
)

// loadConfig resolves the configuration after cobra has parsed the
// persistent flags. --config wins over --config-dir.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	if configDir != "" {
		expanded, err := fs.ExpandConfigDir(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config directory path: %w", err)
		}
		return config.NewConfigWithDir(expanded)
	}
	return config.NewConfig()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default: ~/.lmbridge)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (default: <config dir>/config.yaml)")

	// Add version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("LM Bridge\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Git Commit: %s\n", gitCommit)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Go Version: %s\n", goVersion)
			fmt.Printf("Platform:   %s\n", platform)
		},
	}
	rootCmd.AddCommand(versionCmd)

	// Add subcommands
	rootCmd.AddCommand(cli.StartCommand(loadConfig, version))
	rootCmd.AddCommand(cli.StopCommand(loadConfig))
	rootCmd.AddCommand(cli.RestartCommand(loadConfig, version))
	rootCmd.AddCommand(cli.StatusCommand(loadConfig))
	rootCmd.AddCommand(cli.TokenCommand(loadConfig))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
