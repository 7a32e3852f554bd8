// Package main runs the Krist payout service: it listens for payments
// sent to a name.kst and splits them between the participants present.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"krist-payout/internal/config"
	"krist-payout/internal/krist"
)

// Process exit codes.
const (
	exitConfig       = 1
	exitRoster       = 10
	exitHandshake    = 11
	exitDisconnected = 12
	exitHelloTimeout = 13
)

// exitError carries the process exit code for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// exitCode maps err to the process exit code.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case errors.Is(err, krist.ErrTimeout):
		return exitHelloTimeout
	case errors.Is(err, krist.ErrHandshake):
		return exitHandshake
	case errors.Is(err, krist.ErrDisconnected):
		return exitDisconnected
	default:
		return exitConfig
	}
}

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "krist-payout",
		Short:        "Split Krist payments to a name between the participants present",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to a config file (yaml, toml or json)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("roster-dsn", "", "PostgreSQL roster connection string")
	bindFlags(v, flags, map[string]string{
		"log.level":           "log-level",
		"log.format":          "log-format",
		"roster.postgres_dsn": "roster-dsn",
	})

	load := func() (config.Config, error) {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return config.Config{}, withExitCode(exitConfig, err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		newRunCmd(v, load),
		newAddressCmd(load),
		newRosterCmd(load),
		newVersionCmd(),
	)

	return rootCmd
}

// bindFlags binds config keys to the named flags so that a flag given on
// the command line overrides the file and the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}
