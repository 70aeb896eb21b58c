package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/slush-dev/pushrelay/internal/config"
	"github.com/slush-dev/pushrelay/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	sessionDir string
	verbose    bool
	useYAML    bool

	cfg    *config.Config
	logger = slog.Default()
)

func defaultSessionDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pushrelay")
}

var rootCmd = &cobra.Command{
	Use:           "pushrelay",
	Short:         "Receive push messages, show them as notifications and track when they are opened",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("session-dir") || loaded.SessionDir == "" {
			loaded.SessionDir = sessionDir
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}
		cfg = loaded

		logger = newLogger(cfg.Logging, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

// newLogger builds the process logger from the logging section. Every command
// logs to w, which is stderr so stdout stays free for output and MCP traffic.
func newLogger(lc config.LoggingConfig, w io.Writer) *slog.Logger {
	return logging.New(w, logging.ParseLevel(lc.Level), lc.Format)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./pushrelay.yaml)")
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", defaultSessionDir(), "Directory for FCM credentials and other state")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&useYAML, "yaml", false, "Print output in YAML format")
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
