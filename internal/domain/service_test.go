package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blackmichael/bsky-collect/internal/domain"
)

func newCollector(filter domain.FilterSpec, opts ...domain.CollectorOption) *domain.Collector {
	return domain.NewCollector(domain.NewNormalizer(nil, nil, nil), filter, zap.NewNop(), opts...)
}

func TestStream_PastCutoffStopsImmediately(t *testing.T) {
	sub := &feedSource{envs: []*domain.FeedEnvelope{feedPost("did:plc:a", "1", "never seen")}, hold: true}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{})

	stats, err := c.Stream(context.Background(), sub, domain.TerminationSpec{Cutoff: time.Now().Add(-time.Minute)}, w)
	require.NoError(t, err)

	assert.Equal(t, domain.StopCutoff, stats.Reason)
	assert.Zero(t, stats.Accepted)
	assert.Empty(t, w.Rows())
	assert.Equal(t, 1, w.closed)
}

func TestStream_CutoffWithNoEvents(t *testing.T) {
	sub := &feedSource{hold: true}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{})

	stats, err := c.Stream(context.Background(), sub, domain.TerminationSpec{Cutoff: time.Now().Add(50 * time.Millisecond)}, w)
	require.NoError(t, err)

	assert.Equal(t, domain.StopCutoff, stats.Reason)
	assert.Zero(t, stats.Accepted)
	assert.Equal(t, 1, w.closed)
}

func TestStream_MaxItemsCountsOnlyAccepted(t *testing.T) {
	var envs []*domain.FeedEnvelope
	for i, text := range []string{"gaza 1", "sports", "gaza 2", "music", "gaza 3", "gaza 4", "gaza 5"} {
		envs = append(envs, feedPost("did:plc:a", string(rune('a'+i)), text))
	}
	sub := &feedSource{envs: envs, hold: true}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.NewFilterSpec(domain.LiteralPattern("gaza"), nil, false))

	stats, err := c.Stream(context.Background(), sub, domain.TerminationSpec{MaxItems: 3}, w)
	require.NoError(t, err)

	assert.Equal(t, domain.StopMaxItems, stats.Reason)
	assert.Equal(t, 3, stats.Accepted)
	assert.Equal(t, 2, stats.Rejected)
	rows := w.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "gaza 1", *rows[0].Text)
	assert.Equal(t, "gaza 2", *rows[1].Text)
	assert.Equal(t, "gaza 3", *rows[2].Text)
	assert.Equal(t, 1, w.closed)
}

func TestStream_LooksUpOnlyAcceptedRows(t *testing.T) {
	var envs []*domain.FeedEnvelope
	for i := 0; i < 5; i++ {
		envs = append(envs, feedPost("did:plc:a", string(rune('a'+i)), "sports"))
	}
	envs = append(envs, &domain.FeedEnvelope{
		Repo:       "did:plc:b",
		Operation:  domain.OperationCreate,
		Collection: domain.CollectionLike,
		RKey:       "l1",
		Record: &domain.Record{
			Type:    domain.CollectionLike,
			Subject: &domain.StrongRef{URI: "at://did:plc:c/app.bsky.feed.post/x"},
		},
	})
	envs = append(envs, feedPost("did:plc:a", "z", "news from gaza"))

	records := &recordStore{}
	profiles := &profileStore{}
	normalizer := domain.NewNormalizer(records, profiles, nil)
	c := domain.NewCollector(normalizer, domain.NewFilterSpec(domain.LiteralPattern("gaza"), nil, false), zap.NewNop())
	w := &memWriter[*domain.CanonicalRow]{}

	stats, err := c.Stream(context.Background(), &feedSource{envs: envs}, domain.TerminationSpec{}, w)
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Rejected)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 1, records.calls)
	assert.Equal(t, 1, profiles.calls)
	require.Len(t, w.Rows(), 1)
	assert.Equal(t, "did:plc:a", *w.Rows()[0].DID)
}

func TestHistorical_LooksUpOnlyAcceptedRows(t *testing.T) {
	now := time.Now()
	src := &searchSource{pages: []domain.SearchPage{{Posts: []domain.PostView{
		searchPost("at://did:plc:alice/app.bsky.feed.post/1", "sports", now.Add(-time.Minute)),
		searchPost("at://did:plc:alice/app.bsky.feed.post/2", "sports again", now.Add(-2*time.Minute)),
	}}}}
	profiles := &profileStore{}
	c := domain.NewCollector(domain.NewNormalizer(&recordStore{}, profiles, nil),
		domain.NewFilterSpec(domain.LiteralPattern("gaza"), nil, false), zap.NewNop(), domain.WithBackfill(false))

	stats, err := c.Historical(context.Background(), src, "q", domain.TerminationSpec{}, &memWriter[*domain.CanonicalRow]{})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Rejected)
	assert.Zero(t, profiles.calls)
}

func TestStream_SkipsUnrecognizedAndDrainsFeed(t *testing.T) {
	del := &domain.FeedEnvelope{Repo: "did:plc:a", Operation: domain.OperationDelete, Collection: domain.CollectionPost, RKey: "x"}
	sub := &feedSource{envs: []*domain.FeedEnvelope{feedPost("did:plc:a", "1", "one"), del, feedPost("did:plc:a", "2", "two")}}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{})

	stats, err := c.Stream(context.Background(), sub, domain.TerminationSpec{}, w)
	require.NoError(t, err)

	assert.Equal(t, domain.StopExhausted, stats.Reason)
	assert.Equal(t, 3, stats.Inspected)
	assert.Equal(t, 1, stats.Skipped)
	assert.Len(t, w.Rows(), 2)
}

func TestStream_InterruptFlushesWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &feedSource{hold: true}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	stats, err := c.Stream(ctx, sub, domain.TerminationSpec{}, w)
	require.NoError(t, err)

	assert.Equal(t, domain.StopInterrupted, stats.Reason)
	assert.Equal(t, 1, w.closed)
}

func TestStream_FeedFailureIsReported(t *testing.T) {
	sub := &feedSource{envs: []*domain.FeedEnvelope{feedPost("did:plc:a", "1", "kept")}, err: errors.New("handshake refused")}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{})

	stats, err := c.Stream(context.Background(), sub, domain.TerminationSpec{}, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake refused")
	assert.Equal(t, domain.StopFailed, stats.Reason)
	assert.Len(t, w.Rows(), 1)
	assert.Equal(t, 1, w.closed)
}

func TestStream_WriteFailureIsFatal(t *testing.T) {
	sub := &feedSource{envs: []*domain.FeedEnvelope{feedPost("did:plc:a", "1", "x")}, hold: true}
	w := &memWriter[*domain.CanonicalRow]{appendErr: errors.New("disk full")}
	c := newCollector(domain.FilterSpec{})

	stats, err := c.Stream(context.Background(), sub, domain.TerminationSpec{}, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, domain.StopFailed, stats.Reason)
	assert.Equal(t, 1, w.closed)
}

func TestHistorical_StopsAtSinceBoundary(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &searchSource{pages: []domain.SearchPage{
		{
			Posts: []domain.PostView{
				searchPost("at://did:plc:alice/app.bsky.feed.post/3", "third", since.Add(72*time.Hour)),
				searchPost("at://did:plc:alice/app.bsky.feed.post/2", "second", since.Add(time.Hour)),
				searchPost("at://did:plc:alice/app.bsky.feed.post/1", "edge", since.Add(-time.Hour)),
			},
			Cursor: "c1",
		},
		{
			Posts: []domain.PostView{
				searchPost("at://did:plc:alice/app.bsky.feed.post/0", "old", since.Add(-48*time.Hour)),
			},
			Cursor: "c2",
		},
		{
			Posts: []domain.PostView{
				searchPost("at://did:plc:alice/app.bsky.feed.post/-1", "never", since.Add(-96*time.Hour)),
			},
		},
	}}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{})

	stats, err := c.Historical(context.Background(), src, "bluesky", domain.TerminationSpec{Since: since}, w)
	require.NoError(t, err)

	assert.Equal(t, domain.StopBoundary, stats.Reason)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 2, stats.OutOfRange)
	rows := w.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "third", *rows[0].Text)
	assert.Equal(t, "second", *rows[1].Text)

	require.Len(t, src.queries, 2)
	assert.Equal(t, "bluesky", src.queries[0].Query)
	assert.Equal(t, since, src.queries[0].Since)
	assert.Equal(t, "", src.queries[0].Cursor)
	assert.Equal(t, "c1", src.queries[1].Cursor)
	assert.Equal(t, 100, src.queries[0].Limit)
}

func TestHistorical_PageLimitFollowsRemaining(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &searchSource{pages: []domain.SearchPage{{
		Posts: []domain.PostView{
			searchPost("at://did:plc:alice/app.bsky.feed.post/a", "a", base),
			searchPost("at://did:plc:alice/app.bsky.feed.post/b", "b", base),
			searchPost("at://did:plc:alice/app.bsky.feed.post/c", "c", base),
		},
		Cursor: "more",
	}}}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{})

	stats, err := c.Historical(context.Background(), src, "q", domain.TerminationSpec{MaxItems: 2}, w)
	require.NoError(t, err)

	assert.Equal(t, domain.StopMaxItems, stats.Reason)
	assert.Len(t, w.Rows(), 2)
	require.Len(t, src.queries, 1)
	assert.Equal(t, 2, src.queries[0].Limit)
}

func TestHistorical_BackfillWalksUntil(t *testing.T) {
	t3 := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	t2 := t3.Add(-24 * time.Hour)
	t1 := t2.Add(-24 * time.Hour)
	src := &searchSource{pages: []domain.SearchPage{
		{Posts: []domain.PostView{
			searchPost("at://did:plc:alice/app.bsky.feed.post/3", "three", t3),
			searchPost("at://did:plc:alice/app.bsky.feed.post/2", "two", t2),
		}},
		{Posts: []domain.PostView{
			searchPost("at://did:plc:alice/app.bsky.feed.post/2", "two", t2),
			searchPost("at://did:plc:alice/app.bsky.feed.post/1", "one", t1),
		}},
	}}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{})

	stats, err := c.Historical(context.Background(), src, "q", domain.TerminationSpec{}, w)
	require.NoError(t, err)

	assert.Equal(t, domain.StopExhausted, stats.Reason)
	rows := w.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "one", *rows[2].Text)

	require.Len(t, src.queries, 3)
	assert.True(t, src.queries[0].Until.IsZero())
	assert.Equal(t, t2, src.queries[1].Until)
	assert.Equal(t, t1, src.queries[2].Until)
}

func TestHistorical_BackfillDisabled(t *testing.T) {
	base := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	src := &searchSource{pages: []domain.SearchPage{
		{Posts: []domain.PostView{searchPost("at://did:plc:alice/app.bsky.feed.post/3", "three", base)}},
		{Posts: []domain.PostView{searchPost("at://did:plc:alice/app.bsky.feed.post/2", "two", base)}},
	}}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{}, domain.WithBackfill(false))

	stats, err := c.Historical(context.Background(), src, "q", domain.TerminationSpec{}, w)
	require.NoError(t, err)

	assert.Equal(t, domain.StopExhausted, stats.Reason)
	assert.Len(t, w.Rows(), 1)
	assert.Len(t, src.queries, 1)
}

func TestHistorical_PageFailureKeepsWrittenRows(t *testing.T) {
	base := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	src := &searchSource{
		pages: []domain.SearchPage{{
			Posts:  []domain.PostView{searchPost("at://did:plc:alice/app.bsky.feed.post/3", "three", base)},
			Cursor: "c1",
		}},
		errAt: 2,
	}
	w := &memWriter[*domain.CanonicalRow]{}
	c := newCollector(domain.FilterSpec{})

	stats, err := c.Historical(context.Background(), src, "q", domain.TerminationSpec{}, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 2")
	assert.Equal(t, domain.StopFailed, stats.Reason)
	assert.Len(t, w.Rows(), 1)
	assert.Equal(t, 1, w.closed)
}

type countingRecorder struct {
	inspected, skipped, rejected, accepted, pages int
}

func (r *countingRecorder) EnvelopeInspected(domain.Mode)              { r.inspected++ }
func (r *countingRecorder) EnvelopeSkipped(domain.Mode)                { r.skipped++ }
func (r *countingRecorder) RowRejected(domain.Mode)                    { r.rejected++ }
func (r *countingRecorder) RowAccepted(domain.Mode, domain.ActionType) { r.accepted++ }
func (r *countingRecorder) PageFetched(string)                         { r.pages++ }

func TestHistorical_ReportsToRecorder(t *testing.T) {
	base := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	src := &searchSource{pages: []domain.SearchPage{{
		Posts: []domain.PostView{
			searchPost("at://did:plc:alice/app.bsky.feed.post/1", "keep me", base),
			searchPost("at://did:plc:alice/app.bsky.feed.post/2", "drop", base),
		},
	}}}
	rec := &countingRecorder{}
	c := newCollector(domain.NewFilterSpec(domain.LiteralPattern("keep"), nil, false), domain.WithRecorder(rec), domain.WithBackfill(false))

	_, err := c.Historical(context.Background(), src, "q", domain.TerminationSpec{}, &memWriter[*domain.CanonicalRow]{})
	require.NoError(t, err)

	assert.Equal(t, 2, rec.inspected)
	assert.Equal(t, 1, rec.rejected)
	assert.Equal(t, 1, rec.accepted)
	assert.Equal(t, 1, rec.pages)
}
