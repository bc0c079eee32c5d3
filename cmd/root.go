package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yousef-elgarch1/secureflow/pkg/config"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
	"github.com/yousef-elgarch1/secureflow/pkg/telemetry"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	cfgFile   string
	DebugMode bool

	cfg               *config.Config
	shutdownTelemetry = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "secureflow",
	Short: "Compliance-grounded remediation policies from security scan results",
	Long: `SecureFlow turns SAST, SCA and DAST findings into remediation policies
grounded in NIST CSF and ISO 27001 controls, and tracks each policy through
its lifecycle.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Debugf("telemetry shutdown: %v", err)
		}
		logging.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.secureflow/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&DebugMode, "debug", false, "Enable debug logging")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

// initEnv loads a .env file from the working directory, if any, before
// viper reads the environment.
func initEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not read .env: %v\n", err)
	}
	viper.SetEnvPrefix("SECUREFLOW")
	_ = viper.BindEnv("debug")
}

func setup(cmd *cobra.Command, args []string) error {
	logging.InitLogger(DebugMode || viper.GetBool("debug"))

	path, base, err := configLocation()
	if err != nil {
		return err
	}
	cfg, err = config.LoadFrom(path)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(cfg, viper.GetViper()); err != nil {
		return err
	}
	cfg.Resolve(base)
	logging.Debugf("configuration loaded from %s", path)

	shutdown, err := telemetry.Init(cmd.Context(), Version, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logging.Warnf("tracing disabled: %v", err)
		return nil
	}
	shutdownTelemetry = shutdown
	return nil
}

// configLocation returns the config file path and the directory relative
// paths inside it resolve against.
func configLocation() (path, base string, err error) {
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return "", "", err
		}
		return abs, filepath.Dir(abs), nil
	}
	path, err = config.GetConfigPath()
	if err != nil {
		return "", "", err
	}
	return path, filepath.Dir(path), nil
}

// saveConfig writes the file the current command loaded from. Environment
// overrides are not written back.
func saveConfig(c *config.Config) error {
	path, _, err := configLocation()
	if err != nil {
		return err
	}
	return config.SaveTo(c, path)
}

// rawConfig reloads the file without environment overrides, for commands
// that edit and save it.
func rawConfig() (*config.Config, error) {
	path, _, err := configLocation()
	if err != nil {
		return nil, err
	}
	return config.LoadFrom(path)
}
