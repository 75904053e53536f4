package domain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// GraphKind names a relationship listing.
type GraphKind string

const (
	GraphFollowers  GraphKind = "followers"
	GraphFollowing  GraphKind = "following"
	GraphRepostedBy GraphKind = "reposted_by"
)

// GraphPaginator walks relationship edges for one subject and writes one
// FollowerRow per edge. There is no filter stage.
type GraphPaginator struct {
	kind     GraphKind
	maxItems int
	recorder Recorder
	logger   *zap.Logger
}

// GraphOption configures a GraphPaginator.
type GraphOption func(*GraphPaginator)

// WithGraphMaxItems caps the number of edges written. Zero means no cap.
func WithGraphMaxItems(n int) GraphOption {
	return func(p *GraphPaginator) {
		p.maxItems = n
	}
}

// WithGraphRecorder attaches a progress Recorder.
func WithGraphRecorder(r Recorder) GraphOption {
	return func(p *GraphPaginator) {
		if r != nil {
			p.recorder = r
		}
	}
}

// NewGraphPaginator creates a GraphPaginator.
func NewGraphPaginator(kind GraphKind, logger *zap.Logger, opts ...GraphOption) *GraphPaginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &GraphPaginator{
		kind:     kind,
		recorder: nopRecorder{},
		logger:   logger.Named("graph").With(zap.String("kind", string(kind))),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run requests pages until the lister returns no cursor. A failed page ends
// the run with an error; rows from earlier pages are still flushed because
// the writer is always closed.
func (p *GraphPaginator) Run(ctx context.Context, lister GraphLister, subject string, w RowWriter[*FollowerRow]) (stats RunStats, err error) {
	ctrl := NewTerminationController(ModePull, TerminationSpec{MaxItems: p.maxItems}, nil)
	stats.Started = time.Now()
	defer func() {
		stats.Reason = ctrl.Reason()
		stats.Finished = time.Now()
		if closeErr := w.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = fmt.Errorf("close writer: %w", closeErr)
		}
		fields := []zap.Field{
			zap.String("subject", subject),
			zap.String("reason", string(stats.Reason)),
			zap.Int("edges", stats.Accepted),
			zap.Int("pages", stats.Pages),
		}
		if err != nil {
			p.logger.Error("graph listing failed", append(fields, zap.Error(err))...)
			return
		}
		p.logger.Info("graph listing finished", fields...)
	}()

	cursor := ""
	for ctrl.ShouldContinue() {
		if ctx.Err() != nil {
			ctrl.Stop(StopInterrupted)
			break
		}

		page, err := lister.ListEdges(ctx, subject, cursor)
		if err != nil {
			if ctx.Err() != nil {
				ctrl.Stop(StopInterrupted)
				break
			}
			ctrl.Stop(StopFailed)
			return stats, fmt.Errorf("list %s page %d: %w", p.kind, stats.Pages+1, err)
		}
		stats.Pages++
		p.recorder.PageFetched(string(p.kind))

		for _, edge := range page.Edges {
			if !ctrl.ShouldContinue() {
				break
			}
			stats.Inspected++
			if err := w.Append(ctx, NewFollowerRow(edge)); err != nil {
				ctrl.Stop(StopFailed)
				return stats, fmt.Errorf("write row: %w", err)
			}
			ctrl.RecordAccepted()
			stats.Accepted++
		}

		p.logger.Debug("graph page processed",
			zap.Int("page", stats.Pages),
			zap.Int("edges", len(page.Edges)),
			zap.Int("total", stats.Accepted),
		)

		cursor = page.Cursor
		ctrl.ObservePage(PageStats{Total: len(page.Edges), InRange: len(page.Edges), HasMore: cursor != "" && len(page.Edges) > 0})
	}

	return stats, nil
}
