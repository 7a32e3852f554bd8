package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"krist-payout/internal/config"
	"krist-payout/internal/krist"
)

func newAddressCmd(load func() (config.Config, error)) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "address [private-key]",
		Short: "Print the address a private key logs in as",
		Long:  "Print the v2 address derived from a private key. Without an argument the configured private_key is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				cfg, err := load()
				if err != nil {
					return err
				}
				key = cfg.PrivateKey
			}
			if key == "" {
				return withExitCode(exitConfig, errors.New("no private key given"))
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), krist.MakeV2Address(key, prefix))
			return err
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", krist.DefaultAddressPrefix, "address prefix")

	return cmd
}
