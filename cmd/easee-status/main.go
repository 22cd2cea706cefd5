package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/config"
	"github.com/kubejarvis/easee-status/internal/logger"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

var envFile string

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Collect charger state and report it every interval",
		RunE:  runPipeline,
	}
	runCmd.Flags().Int("interval", config.DefaultInterval, "collection interval in minutes (INTERVAL)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve charger state over HTTP",
		RunE:  runServer,
	}
	serveCmd.Flags().String("address", config.DefaultServerAddress, "bind address (ROCKET_ADDRESS)")
	serveCmd.Flags().Int("port", config.DefaultServerPort, "listen port (ROCKET_PORT)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "easee-status %s (commit %s, %s)\n", version, commit, runtime.Version())
		},
	}

	rootCmd := &cobra.Command{
		Use:   "easee-status",
		Short: "Easee charger state exporter",
		Long: "Polls the Easee cloud API for the state of every charger on the account and\n" +
			"writes it to InfluxDB, or serves it over HTTP in serve mode.",
		// without a subcommand the collect-and-report pipeline runs
		RunE:          runPipeline,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Flags().AddFlagSet(runCmd.Flags())
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file read before the environment")
	rootCmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "log level: trace, debug, info, warn, error (LOG_LEVEL)")

	rootCmd.AddCommand(runCmd, serveCmd, versionCmd)
	return rootCmd
}

// flagKeys maps command-line flags to the configuration keys they override
var flagKeys = map[string]string{
	"log-level": config.KeyLogLevel,
	"interval":  config.KeyInterval,
	"address":   config.KeyServerAddress,
	"port":      config.KeyServerPort,
}

// loadConfig builds the configuration with flag > environment > env file > default
// precedence and the logger configured from it.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	v, err := config.NewViper(envFile)
	if err != nil {
		return nil, nil, err
	}
	if err := bindFlags(cmd, v); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(v.GetString(config.KeyLogLevel), v.GetString(config.KeyLogFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		logConfigError(log, err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// logConfigError logs every aggregated problem on its own line
func logConfigError(log *zap.Logger, err error) {
	var validationErr *config.ValidationError
	if !errors.As(err, &validationErr) {
		log.Error("Invalid configuration", zap.Error(err))
		return
	}

	for _, e := range validationErr.Errors {
		var cfgErr *config.Error
		if errors.As(e, &cfgErr) {
			log.Error("Invalid configuration",
				zap.String("variable", cfgErr.Field),
				zap.String("type", string(cfgErr.Type)),
				zap.String("problem", cfgErr.Message))
			continue
		}
		log.Error("Invalid configuration", zap.Error(e))
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		logConfigError(log, err)
		return err
	}

	log.Info("Starting easee-status",
		zap.String("version", version),
		zap.String("mode", "run"),
		zap.Duration("interval", cfg.Interval))

	return NewApp(cfg, log).Run(cmd.Context())
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := cfg.ValidateServer(); err != nil {
		logConfigError(log, err)
		return err
	}

	log.Info("Starting easee-status",
		zap.String("version", version),
		zap.String("mode", "serve"))

	return NewApp(cfg, log).Serve(cmd.Context())
}
