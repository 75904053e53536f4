package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// maxPageSize is the largest page the search endpoint returns.
	maxPageSize = 100

	progressInterval = 30 * time.Second
)

// RunStats summarizes one collection run.
type RunStats struct {
	Inspected  int
	Skipped    int
	Rejected   int
	OutOfRange int
	Accepted   int
	Pages      int
	Reason     StopReason
	Started    time.Time
	Finished   time.Time
}

// Collector runs the Normalizer -> Filter -> Termination -> Writer pipeline
// for one source at a time. A Collector holds only immutable configuration;
// all per-run state lives in the run itself.
type Collector struct {
	normalizer *Normalizer
	filter     FilterSpec
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time
	backfill   bool
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithRecorder attaches a progress Recorder.
func WithRecorder(r Recorder) CollectorOption {
	return func(c *Collector) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithClock replaces the wall clock used for the push-mode cutoff.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithBackfill toggles restarting an exhausted search with an earlier until.
func WithBackfill(enabled bool) CollectorOption {
	return func(c *Collector) {
		c.backfill = enabled
	}
}

// NewCollector creates a Collector.
func NewCollector(normalizer *Normalizer, filter FilterSpec, logger *zap.Logger, opts ...CollectorOption) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		normalizer: normalizer,
		filter:     filter,
		recorder:   nopRecorder{},
		logger:     logger.Named("collector"),
		now:        time.Now,
		backfill:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream consumes the push feed until the cutoff passes, max items are
// accepted, the context is cancelled, or the feed fails. The writer is always
// closed before Stream returns, flushing any partial batch.
func (c *Collector) Stream(ctx context.Context, sub FeedSubscriber, spec TerminationSpec, w RowWriter[*CanonicalRow]) (stats RunStats, err error) {
	ctrl := NewTerminationController(ModePush, spec, c.now)
	stats.Started = c.now()
	defer func() {
		stats.Reason = ctrl.Reason()
		stats.Finished = c.now()
		if closeErr := w.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = fmt.Errorf("close writer: %w", closeErr)
		}
		c.logFinished(ModePush, stats, err)
	}()

	if !ctrl.ShouldContinue() {
		return stats, nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan *FeedEnvelope)
	subDone := make(chan error, 1)
	go func() {
		subDone <- sub.Subscribe(subCtx, func(hctx context.Context, env *FeedEnvelope) error {
			select {
			case events <- env:
				return nil
			case <-hctx.Done():
				return hctx.Err()
			}
		})
	}()
	subRunning := true
	defer func() {
		cancel()
		if subRunning {
			<-subDone
		}
	}()

	var deadline <-chan time.Time
	if cutoff, ok := ctrl.Deadline(); ok {
		timer := time.NewTimer(cutoff.Sub(c.now()))
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for ctrl.ShouldContinue() {
		select {
		case <-ctx.Done():
			ctrl.Stop(StopInterrupted)

		case <-deadline:
			ctrl.Stop(StopCutoff)

		case subErr := <-subDone:
			subRunning = false
			switch {
			case ctx.Err() != nil:
				ctrl.Stop(StopInterrupted)
			case subErr != nil:
				ctrl.Stop(StopFailed)
				return stats, fmt.Errorf("feed subscription: %w", subErr)
			default:
				ctrl.Stop(StopExhausted)
			}

		case env := <-events:
			if err := c.consume(ctx, ctrl, env, w, &stats); err != nil {
				if ctx.Err() != nil {
					ctrl.Stop(StopInterrupted)
					continue
				}
				ctrl.Stop(StopFailed)
				return stats, err
			}

		case <-ticker.C:
			c.logProgress(ModePush, stats)
		}
	}

	return stats, nil
}

// Historical pages through search results for query until the source is exhausted, max items are accepted, a whole page falls before
// Since, or the context is cancelled. Item timestamps are re-checked against
// [Since, Until] on the client; the server-side constraint is an optimization.
func (c *Collector) Historical(ctx context.Context, src SearchSource, query string, spec TerminationSpec, w RowWriter[*CanonicalRow]) (stats RunStats, err error) {
	ctrl := NewTerminationController(ModePull, spec, c.now)
	stats.Started = c.now()
	defer func() {
		stats.Reason = ctrl.Reason()
		stats.Finished = c.now()
		if closeErr := w.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = fmt.Errorf("close writer: %w", closeErr)
		}
		c.logFinished(ModePull, stats, err)
	}()

	pager := newSearchPager(src, query, spec.Since, spec.Until, c.backfill)
	lastLog := c.now()

	for ctrl.ShouldContinue() {
		if ctx.Err() != nil {
			ctrl.Stop(StopInterrupted)
			break
		}

		limit := maxPageSize
		if left, capped := ctrl.Remaining(); capped && left < limit {
			limit = left
		}

		page, err := pager.next(ctx, limit)
		if err != nil {
			if ctx.Err() != nil {
				ctrl.Stop(StopInterrupted)
				break
			}
			ctrl.Stop(StopFailed)
			return stats, fmt.Errorf("fetch search page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++
		c.recorder.PageFetched("search")

		ps := PageStats{Total: len(page.posts), HasMore: page.hasMore}
		for i := range page.posts {
			post := page.posts[i]
			ts := ItemTime(&post)
			if ctrl.OlderThanSince(ts) {
				ps.Older++
			}
			if !ctrl.InRange(ts) {
				stats.OutOfRange++
				continue
			}
			ps.InRange++

			if !ctrl.ShouldContinue() {
				break
			}
			if err := c.consume(ctx, ctrl, &SearchEnvelope{Post: post}, w, &stats); err != nil {
				if ctx.Err() != nil {
					ctrl.Stop(StopInterrupted)
					break
				}
				ctrl.Stop(StopFailed)
				return stats, err
			}
		}
		ctrl.ObservePage(ps)

		c.logger.Debug("search page processed",
			zap.Int("page", stats.Pages),
			zap.Int("items", ps.Total),
			zap.Int("in_range", ps.InRange),
			zap.Bool("has_more", ps.HasMore),
		)
		if c.now().Sub(lastLog) >= progressInterval {
			c.logProgress(ModePull, stats)
			lastLog = c.now()
		}
	}

	return stats, nil
}

// consume runs one envelope through normalization, filtering and writing.
// Lookups happen only for rows the filter accepts. Only write failures and
// cancellation are returned as errors.
func (c *Collector) consume(ctx context.Context, ctrl *TerminationController, env Envelope, w RowWriter[*CanonicalRow], stats *RunStats) error {
	mode := env.Mode()
	stats.Inspected++
	c.recorder.EnvelopeInspected(mode)

	row, err := c.normalizer.Build(env)
	if errors.Is(err, ErrSkippedEnvelope) {
		stats.Skipped++
		c.recorder.EnvelopeSkipped(mode)
		c.logger.Debug("skipped envelope", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	if !Accept(row, c.filter) {
		stats.Rejected++
		c.recorder.RowRejected(mode)
		return nil
	}

	if err := c.normalizer.Hydrate(ctx, env, row); err != nil {
		return err
	}

	if err := w.Append(ctx, row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	ctrl.RecordAccepted()
	stats.Accepted++
	c.recorder.RowAccepted(mode, row.ActionType)
	return nil
}

func (c *Collector) logProgress(mode Mode, stats RunStats) {
	c.logger.Info("collection progress",
		zap.String("mode", string(mode)),
		zap.Int("inspected", stats.Inspected),
		zap.Int("accepted", stats.Accepted),
		zap.Int("rejected", stats.Rejected),
		zap.Int("skipped", stats.Skipped),
	)
}

func (c *Collector) logFinished(mode Mode, stats RunStats, err error) {
	fields := []zap.Field{
		zap.String("mode", string(mode)),
		zap.String("reason", string(stats.Reason)),
		zap.Int("inspected", stats.Inspected),
		zap.Int("accepted", stats.Accepted),
		zap.Int("rejected", stats.Rejected),
		zap.Int("skipped", stats.Skipped),
		zap.Int("out_of_range", stats.OutOfRange),
		zap.Int("pages", stats.Pages),
		zap.Duration("elapsed", stats.Finished.Sub(stats.Started)),
	}
	if err != nil {
		c.logger.Error("collection failed", append(fields, zap.Error(err))...)
		return
	}
	c.logger.Info("collection finished", fields...)
}
