package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/config"
	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/ingest"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
	"github.com/spf13/cobra"
)

var (
	flagTTLHours     float64
	flagForce        bool
	flagSkipExternal bool
	flagNoReviews    bool
	flagWeights      map[string]string
	flagHistoryLimit int
	flagReviewLimit  int
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <community>",
	Short: "Refresh the metrics of a community and print its score event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := refreshOptions(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			c, err := a.resolver.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := a.ingest.Refresh(ctx, c.ID, opts)
			if err != nil {
				return err
			}
			stored := 0
			if !flagNoReviews {
				if stored, err = a.ingest.MaterializeReviews(ctx, c.ID); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), struct {
				domain.ScoreEvent
				ReviewsStored int `json:"reviews_stored"`
			}{out.Event(), stored})
		})
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score <community>",
	Short: "Print the dimension scores of a community, refreshing stale metrics first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			c, err := a.resolver.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := a.ingest.Refresh(ctx, c.ID, ingest.Options{}); err != nil {
				return err
			}
			rows, err := a.store.ListDimensionScores(ctx, c.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		})
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <community-a> <community-b>",
	Short: "Compare two communities dimension by dimension",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		weights, err := parseWeights(flagWeights)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rec, err := a.compare.Compare(ctx, args[0], args[1], weights)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <community>",
	Short: "List stored comparisons involving a community, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			c, err := a.resolver.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			recs, err := a.store.ListComparisons(ctx, c.ID, flagHistoryLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recs)
		})
	},
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews <community>",
	Short: "Materialize cached review comments and list the stored posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			c, err := a.resolver.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := a.ingest.MaterializeReviews(ctx, c.ID); err != nil {
				return err
			}
			posts, err := a.store.ListReviews(ctx, c.ID, flagReviewLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), posts)
		})
	},
}

func init() {
	refreshCmd.Flags().Float64Var(&flagTTLHours, "ttl-hours", 0, "refresh when metrics are older than this many hours (default METRICS_TTL_HOURS)")
	refreshCmd.Flags().BoolVar(&flagForce, "force", false, "refresh regardless of age")
	refreshCmd.Flags().BoolVar(&flagSkipExternal, "skip-external", false, "recompute from stored values without calling providers")
	refreshCmd.Flags().BoolVar(&flagNoReviews, "no-reviews", false, "do not materialize review posts")

	compareCmd.Flags().StringToStringVar(&flagWeights, "weight", nil, "dimension weight, recorded with the comparison (e.g. --weight Cost=2)")

	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 50, "maximum comparisons to list")
	reviewsCmd.Flags().IntVar(&flagReviewLimit, "limit", 100, "maximum posts to list")
}

// withApp loads config, wires the services, and runs fn. Logs go to stderr.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLoggerTo(cmd.ErrOrStderr(), cfg)

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close error", "error", err)
		}
	}()
	return fn(cmd.Context(), a)
}

// refreshOptions maps the refresh flags onto ingest options. --force wins
// over --ttl-hours.
func refreshOptions(cmd *cobra.Command) (ingest.Options, error) {
	opts := ingest.Options{SkipExternal: flagSkipExternal}
	switch {
	case flagForce:
		d := time.Duration(0)
		opts.TTL = &d
	case cmd.Flags().Changed("ttl-hours"):
		if flagTTLHours < 0 || math.IsNaN(flagTTLHours) {
			return ingest.Options{}, fmt.Errorf("%w: --ttl-hours must not be negative", domain.ErrInvalidRequest)
		}
		d := time.Duration(flagTTLHours * float64(time.Hour))
		opts.TTL = &d
	}
	return opts, nil
}

// parseWeights converts --weight pairs into numbers.
func parseWeights(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	weights := make(map[string]float64, len(raw))
	for _, k := range keys {
		v, err := strconv.ParseFloat(raw[k], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: weight %s=%q is not a number", domain.ErrInvalidRequest, k, raw[k])
		}
		weights[k] = v
	}
	return weights, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
