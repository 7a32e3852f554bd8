package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"krist-payout/internal/config"
	"krist-payout/internal/roster"
	"krist-payout/internal/roster/postgres"
)

func newRosterCmd(load func() (config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage the Postgres roster of recipients",
	}

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, cfg config.Config, store *postgres.Store) error) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		if cfg.Roster.PostgresDSN == "" {
			return withExitCode(exitConfig, errors.New("roster.postgres_dsn is required"))
		}

		ctx := cmd.Context()
		pool, err := openPostgres(ctx, cfg.Roster.PostgresDSN)
		if err != nil {
			return withExitCode(exitRoster, err)
		}
		defer pool.Close()

		return withExitCode(exitRoster, fn(ctx, cfg, postgres.NewStore(pool)))
	}

	joinCmd := &cobra.Command{
		Use:   "join <address> [name]",
		Short: "Mark a participant as present",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := roster.Participant{Address: args[0]}
			if len(args) == 2 {
				p.Name = args[1]
			}
			return withStore(cmd, func(ctx context.Context, _ config.Config, store *postgres.Store) error {
				return store.SetPresent(ctx, p, true)
			})
		},
	}

	leaveCmd := &cobra.Command{
		Use:   "leave <address>",
		Short: "Mark a participant as gone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, _ config.Config, store *postgres.Store) error {
				return store.SetPresent(ctx, roster.Participant{Address: args[0]}, false)
			})
		},
	}

	var reason string
	excludeCmd := &cobra.Command{
		Use:   "exclude <address-or-name>",
		Short: "Never pay a share to an address or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, _ config.Config, store *postgres.Store) error {
				return store.Exclude(ctx, args[0], reason)
			})
		},
	}
	excludeCmd.Flags().StringVar(&reason, "reason", "", "why the identifier is excluded")

	includeCmd := &cobra.Command{
		Use:   "include <address-or-name>",
		Short: "Remove an address or name from the exclusion list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, _ config.Config, store *postgres.Store) error {
				err := store.Include(ctx, args[0])
				if errors.Is(err, roster.ErrNotFound) {
					return fmt.Errorf("%s is not excluded: %w", args[0], err)
				}
				return err
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the participants that would receive a share",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, cfg config.Config, store *postgres.Store) error {
				eligible, err := roster.Eligible(ctx, store, cfg.Exclude)
				if err != nil {
					return err
				}
				excluded, err := store.Exclusions(ctx)
				if err != nil {
					return err
				}
				return printRoster(cmd, eligible, append(excluded, cfg.Exclude...))
			})
		},
	}

	cmd.AddCommand(joinCmd, leaveCmd, excludeCmd, includeCmd, listCmd)
	return cmd
}

func printRoster(cmd *cobra.Command, eligible []roster.Participant, excluded []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME")
	for _, p := range eligible {
		fmt.Fprintf(w, "%s\t%s\n", p.Address, p.Name)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(excluded) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\nexcluded: %v\n", excluded)
	}
	return nil
}
