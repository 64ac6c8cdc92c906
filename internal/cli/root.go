// internal/cli/root.go
package codeforge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the per-invocation configuration state shared by every command.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *appconfig.Config
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "codeforge",
		Short:         "codeforge: retrieval-augmented project generation with a compile-and-fix loop",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", appconfig.DefaultConfigPath, "config file (e.g., config/config.json)")
	pf.Bool("debug", false, "enable debug output")
	pf.String("outputDir", "", "directory generated projects are written to")
	pf.Int("maxAttempts", 0, "maximum generation attempts per request")

	// Flags override config values.
	for _, name := range []string{"debug", "outputDir", "maxAttempts"} {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(
		newGenerateCmd(a),
		newKBCmd(a),
		newAnalyzeCmd(a),
		newSnapshotCmd(a),
		newFeedbackCmd(a),
		newHistoryCmd(a),
		newShowCmd(a),
	)
	rootCmd.AddCommand(newCommandsCmd(rootCmd))
	return rootCmd
}

// load reads the config file, merges env and flags, and validates the result once.
func (a *app) load() error {
	a.v.SetEnvPrefix("CODEFORGE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		a.v.SetConfigType("json")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	var cfg appconfig.Config
	if err := a.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ConfigPath = a.v.ConfigFileUsed()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Init(cfg.LogFilePath(), cfg.Debug); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logging.SetPayloadLimit(cfg.LogPayloadRunes)
	a.cfg = &cfg
	return nil
}

// config returns the loaded configuration. It is only valid inside RunE.
func (a *app) config() *appconfig.Config {
	return a.cfg
}
