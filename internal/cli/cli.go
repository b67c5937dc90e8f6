// Package cli implements the steady command line.
//
//	steady serve    health, readiness and Prometheus metrics over HTTP
//	steady claim    seed a pool table and race concurrent claimers over it
//	steady version  print the build version
//
// Every setting is a persistent flag of the root command and can also be set
// through STEADY_* environment variables or .env files (see package config).
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonwraymond/steadycore/config"
	"github.com/jonwraymond/steadycore/secret"
)

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	var v *viper.Viper

	rootCmd := &cobra.Command{
		Use:           "steady",
		Short:         "Resilience and concurrency core for a shared SQLite store and a remote messaging API",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v = config.NewViper()
			return config.BindFlags(v, cmd.Flags())
		},
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	load := func(ctx context.Context) (*config.Config, func(), error) {
		r, err := secret.NewDefaultResolver(v.GetString(config.KeySecretsDir))
		if err != nil {
			return nil, nil, err
		}
		cfg, err := config.Load(ctx, v, r)
		if err != nil {
			_ = r.Close()
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, func() { _ = r.Close() }, nil
	}

	rootCmd.AddCommand(buildServeCommand(load))
	rootCmd.AddCommand(buildClaimCommand(load))
	rootCmd.AddCommand(buildVersionCommand())

	return rootCmd
}

// loadFunc loads the configuration for a subcommand. The returned func
// releases the secret providers.
type loadFunc func(ctx context.Context) (*config.Config, func(), error)
