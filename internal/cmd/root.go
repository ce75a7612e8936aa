package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/portaldocs/internal/config"
	"github.com/Iron-Ham/portaldocs/internal/docstore"
	"github.com/Iron-Ham/portaldocs/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "portaldocs",
	Short: "Locked, atomic JSON document store",
	Long: `Portaldocs manages a directory of JSON documents shared by several
processes. Every change is made under an exclusive per-document lock,
committed atomically, and preceded by a timestamped backup that is used
to repair the document if it is ever found corrupt.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// flagKeys maps global flags to the configuration keys they override.
var flagKeys = map[string]string{
	"config":    "config",
	"base-dir":  "store.base_dir",
	"output":    "output.format",
	"color":     "output.color",
	"log-level": "logging.level",
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/portaldocs/config.yaml)")
	flags.String("base-dir", "", "directory holding the documents")
	flags.StringP("output", "o", "", "output format: json or yaml")
	flags.String("color", "", "colorize output: auto, always or never")
	flags.String("log-level", "", "log level: debug, info, warn or error")
}

func initConfig(cmd *cobra.Command, args []string) error {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return err
		}
	}

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("PORTALDOCS")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PORTALDOCS_LOCK_TIMEOUT for lock.timeout
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; a broken one is not.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// app carries what a command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *docstore.Store
	out    *printer
	cmd    *cobra.Command
}

// withApp loads configuration, opens the store and runs fn, closing the
// logger afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logOpts := logging.Options{
		Dir:   cfg.Logging.Dir,
		Level: cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		},
	}
	if w := cmd.ErrOrStderr(); w != os.Stderr {
		logOpts.Stderr = w
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()
	logger = logger.WithCommand(cmd.CommandPath())

	store, err := docstore.Open(cfg, docstore.WithLogger(logger))
	if err != nil {
		return err
	}

	return fn(&app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		out:    newPrinter(cmd.OutOrStdout(), cfg.Output),
		cmd:    cmd,
	})
}

// notef writes a status line to stderr, keeping stdout for document content.
func (a *app) notef(format string, args ...any) {
	fmt.Fprintf(a.cmd.ErrOrStderr(), format+"\n", args...)
}

// loadOutput loads only the output settings, for commands that do not touch
// the store.
func loadOutput() (config.OutputConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.OutputConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg.Output, nil
}
