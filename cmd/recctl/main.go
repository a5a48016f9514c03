// Package main provides recctl, the operator CLI for the recommendation
// service: schema migration, fixture seeding, variant lookups and cache
// flushes.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devdanny2024/wanzami-sub000/internal/recommend"
	"github.com/devdanny2024/wanzami-sub000/internal/recommend/cache"
	"github.com/devdanny2024/wanzami-sub000/internal/store/memory"
	pgstore "github.com/devdanny2024/wanzami-sub000/internal/store/postgres"
	"github.com/devdanny2024/wanzami-sub000/pkg/config"
	"github.com/devdanny2024/wanzami-sub000/pkg/logger"
	"github.com/devdanny2024/wanzami-sub000/pkg/postgres"
	pkgredis "github.com/devdanny2024/wanzami-sub000/pkg/redis"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "recctl",
		Short:         "Operate the recommendation service",
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Setup(cfg.Logging.Level, "text")
		return cfg, nil
	}

	rootCmd.AddCommand(newMigrateCmd(load))
	rootCmd.AddCommand(newSeedCmd(load))
	rootCmd.AddCommand(newCountsCmd(load))
	rootCmd.AddCommand(newAssignCmd(load))
	rootCmd.AddCommand(newCacheCmd(load))
	return rootCmd
}

type configLoader func() (*config.Config, error)

func openStore(ctx context.Context, cfg *config.Config) (*pgstore.Store, func(), error) {
	db, err := postgres.Open(ctx, cfg.Postgres.DSN(), cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return pgstore.New(db, nil), func() { db.Close() }, nil
}

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, closeDB, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newSeedCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Upsert a fixture file into postgres",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			fixtures, err := memory.ReadFixtures(args[0])
			if err != nil {
				return err
			}
			store, closeDB, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			if err := store.Import(cmd.Context(), fixtures); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d titles, %d profiles, %d events\n",
				len(fixtures.Titles), len(fixtures.Profiles), len(fixtures.Events))
			return nil
		},
	}
}

func newCountsCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Print row counts of the recommendation tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, closeDB, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			counts, err := store.Counts(cmd.Context())
			if err != nil {
				return err
			}
			tables := make([]string, 0, len(counts))
			for t := range counts {
				tables = append(tables, t)
			}
			sort.Strings(tables)
			for _, t := range tables {
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s %d\n", t, counts[t])
			}
			return nil
		},
	}
}

func newAssignCmd(load configLoader) *cobra.Command {
	var experiment string
	var variants []string

	cmd := &cobra.Command{
		Use:   "assign <profileId>...",
		Short: "Print the experiment variant of each profile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if experiment == "" || len(variants) == 0 {
				cfg, err := load()
				if err != nil {
					return err
				}
				if experiment == "" {
					experiment = cfg.Recommend.ForYou.Experiment
				}
				if len(variants) == 0 {
					variants = cfg.Recommend.ForYou.Variants
				}
			}
			for _, id := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, recommend.AssignVariant(experiment, id, variants))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&experiment, "experiment", "", "experiment name (default from config)")
	cmd.Flags().StringSliceVar(&variants, "variants", nil, "comma-separated variants (default from config)")
	return cmd
}

func newCacheCmd(load configLoader) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the redis surface cache",
	}

	var surface string
	flush := &cobra.Command{
		Use:   "flush",
		Short: "Delete cached surfaces from redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			client, err := pkgredis.NewClient(cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pattern := flushPattern(surface)
			n, err := client.FlushByPattern(ctx, pattern)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d keys matching %s\n", n, pattern)
			return nil
		},
	}
	flush.Flags().StringVar(&surface, "surface", "", "only flush one surface (foryou, becauseyouwatched)")
	cacheCmd.AddCommand(flush)
	return cacheCmd
}

func flushPattern(surface string) string {
	if surface = strings.TrimSpace(surface); surface == "" {
		return cache.Key("*", "*")
	}
	return cache.Key(surface, "*")
}
