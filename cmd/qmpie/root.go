package main

import (
	"fmt"
	"strings"

	"qmpie/internal/config"
	"qmpie/internal/i18n"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries the state shared by subcommands once the root pre-run has
// loaded the configuration.
type app struct {
	configPath string
	verbose    bool
	locale     string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "qmpie",
		Short:         "QuestionnaireMasterPIE: guided survey questionnaire authoring",
		Long:          "qmpie serves the questionnaire authoring API and offers a terminal client that walks a study from information gathering to the final questionnaire.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a config file (json, yaml or toml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.locale, "locale", "", "message locale (fr or en)")

	rootCmd.AddCommand(
		newServeCmd(a),
		newChatCmd(a),
		newDeliverablesCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if locale := strings.TrimSpace(a.locale); locale != "" {
		cfg.Locale = locale
	}
	a.cfg = cfg
	i18n.Init(cfg.Locale)

	logger, err := buildLogger(cfg.Log.Level, a.verbose, cmd.Name() == "chat")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

// buildLogger returns a production logger at level, or a development one at
// debug level when verbose. Interactive commands default to warnings only.
func buildLogger(level string, verbose, interactive bool) (*zap.Logger, error) {
	if verbose || strings.EqualFold(level, "debug") {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return config.Build()
	}
	config := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if interactive && lvl < zapcore.WarnLevel {
		lvl = zapcore.WarnLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}
