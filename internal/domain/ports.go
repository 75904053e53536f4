package domain

import (
	"context"
	"time"
)

// FeedHandler receives envelopes from a FeedSubscriber in arrival order.
// Returning an error stops the subscription.
type FeedHandler func(ctx context.Context, env *FeedEnvelope) error

// FeedSubscriber is the push Record Source.
type FeedSubscriber interface {
	// Subscribe delivers envelopes to handler until ctx is cancelled, the
	// handler returns an error, or the feed fails permanently.
	Subscribe(ctx context.Context, handler FeedHandler) error
}

// SearchQuery is one page request against the search endpoint.
type SearchQuery struct {
	Query  string
	Since  time.Time
	Until  time.Time
	Cursor string
	Limit  int
}

// SearchPage is one page of search results. Cursor is empty when the endpoint
// has no further pages.
type SearchPage struct {
	Posts  []PostView
	Cursor string
}

// SearchSource is the pull Record Source.
type SearchSource interface {
	SearchPosts(ctx context.Context, q SearchQuery) (SearchPage, error)
}

// EdgePage is one page of relationship edges.
type EdgePage struct {
	Edges  []ProfileBasic
	Cursor string
}

// GraphLister fetches one page of relationship edges for a subject (an actor
// or, for reposted-by, a post URI).
type GraphLister interface {
	ListEdges(ctx context.Context, subject, cursor string) (EdgePage, error)
}

// RecordLookup dereferences a record URI. found is false when the record was
// deleted or is otherwise unavailable; that is an ordinary outcome, not an error.
type RecordLookup interface {
	GetRecord(ctx context.Context, uri string) (post *PostView, found bool, err error)
}

// ProfileLookup dereferences an actor DID or handle.
type ProfileLookup interface {
	GetProfile(ctx context.Context, actor string) (profile *Profile, found bool, err error)
}

// RowWriter is the Batch Writer as seen by the pipelines.
type RowWriter[T any] interface {
	Append(ctx context.Context, row T) error
	Close(ctx context.Context) error
}

// Recorder observes pipeline progress.
type Recorder interface {
	EnvelopeInspected(mode Mode)
	EnvelopeSkipped(mode Mode)
	RowRejected(mode Mode)
	RowAccepted(mode Mode, action ActionType)
	PageFetched(kind string)
}

type nopRecorder struct{}

func (nopRecorder) EnvelopeInspected(Mode)       {}
func (nopRecorder) EnvelopeSkipped(Mode)         {}
func (nopRecorder) RowRejected(Mode)             {}
func (nopRecorder) RowAccepted(Mode, ActionType) {}
func (nopRecorder) PageFetched(string)           {}
