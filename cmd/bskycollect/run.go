package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/bsky-collect/internal/bluesky"
	"github.com/blackmichael/bsky-collect/internal/config"
	"github.com/blackmichael/bsky-collect/internal/domain"
	"github.com/blackmichael/bsky-collect/internal/firehose"
	"github.com/blackmichael/bsky-collect/internal/httpserver"
	"github.com/blackmichael/bsky-collect/internal/logging"
	"github.com/blackmichael/bsky-collect/internal/lookup"
	"github.com/blackmichael/bsky-collect/internal/metrics"
	"github.com/blackmichael/bsky-collect/internal/output"
)

var graphKinds = map[config.Command]domain.GraphKind{
	config.CommandFollowers:  domain.GraphFollowers,
	config.CommandFollowing:  domain.GraphFollowing,
	config.CommandRepostedBy: domain.GraphRepostedBy,
}

// runOutput reports what a finished writer produced.
type runOutput interface {
	Paths() []string
	Written() int
}

func run(ctx context.Context, v *viper.Viper, command config.Command, subject string, out io.Writer) error {
	started := time.Now()

	cfg, err := config.Load(v, command, subject, started)
	if err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Encoding: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID), zap.String("command", string(command)))

	m := metrics.New()
	client := bluesky.NewClient(cfg.PDS,
		bluesky.WithRateLimit(cfg.RateLimit, max(int(cfg.RateLimit), 1)),
		bluesky.WithLogger(logger),
	)
	if err := client.Login(ctx, cfg.Handle, cfg.AppPassword); err != nil {
		return fmt.Errorf("login as %s: %w", cfg.Handle, err)
	}
	logger.Info("logged in", zap.String("did", client.DID()))

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopRun := context.WithCancel(gctx)
	defer stopRun()

	if cfg.MetricsAddr != "" {
		info := httpserver.RunInfo{ID: runID, Command: string(command), Mode: modeOf(command), Started: started}
		srv := httpserver.NewServer(cfg.MetricsAddr, info, m, logger)
		g.Go(func() error {
			return srv.Run(runCtx)
		})
	}

	var (
		stats domain.RunStats
		w     runOutput
	)
	g.Go(func() error {
		defer stopRun()
		var err error
		stats, w, err = collect(runCtx, cfg, client, m, logger, started)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s finished (%s): %d rows written\n", command, stats.Reason, w.Written())
	for _, p := range w.Paths() {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}

func collect(ctx context.Context, cfg *config.Config, client *bluesky.Client, m *metrics.Metrics, logger *zap.Logger, started time.Time) (domain.RunStats, runOutput, error) {
	opts := cfg.OutputOptions(started)

	if kind, ok := graphKinds[cfg.Command]; ok {
		lister, err := client.Lister(kind)
		if err != nil {
			return domain.RunStats{}, nil, err
		}
		w, err := output.NewWriter[*domain.FollowerRow](opts, logger, m)
		if err != nil {
			return domain.RunStats{}, nil, fmt.Errorf("open output: %w", err)
		}
		p := domain.NewGraphPaginator(kind, logger,
			domain.WithGraphMaxItems(cfg.MaxItems),
			domain.WithGraphRecorder(m),
		)
		stats, err := p.Run(ctx, lister, cfg.Subject, w)
		return stats, w, err
	}

	records, err := lookup.NewRecords(client, lookup.DefaultSize, m)
	if err != nil {
		return domain.RunStats{}, nil, err
	}
	profiles, err := lookup.NewProfiles(client, lookup.DefaultSize, m)
	if err != nil {
		return domain.RunStats{}, nil, err
	}

	collector := domain.NewCollector(
		domain.NewNormalizer(records, profiles, logger),
		cfg.FilterSpec(),
		logger,
		domain.WithRecorder(m),
		domain.WithBackfill(cfg.Backfill),
	)

	w, err := output.NewWriter[*domain.CanonicalRow](opts, logger, m)
	if err != nil {
		return domain.RunStats{}, nil, fmt.Errorf("open output: %w", err)
	}

	switch cfg.Command {
	case config.CommandStream:
		url := cfg.FirehoseURL
		if url == "" {
			url = firehose.DefaultURL
		}
		sub := firehose.NewSubscriber(url,
			firehose.WithCollections(cfg.Collections()),
			firehose.WithLogger(logger),
		)
		stats, err := collector.Stream(ctx, sub, cfg.TerminationSpec(), w)
		return stats, w, err
	case config.CommandHistorical:
		stats, err := collector.Historical(ctx, client, cfg.Query, cfg.TerminationSpec(), w)
		return stats, w, err
	}

	_ = w.Close(ctx)
	return domain.RunStats{}, nil, fmt.Errorf("unknown command %q", cfg.Command)
}

func modeOf(command config.Command) string {
	switch command {
	case config.CommandStream:
		return string(domain.ModePush)
	case config.CommandHistorical:
		return string(domain.ModePull)
	}
	return "graph"
}
