package domain_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blackmichael/bsky-collect/internal/domain"
)

// memWriter collects rows in memory.
type memWriter[T any] struct {
	mu        sync.Mutex
	rows      []T
	closed    int
	appendErr error
}

func (w *memWriter[T]) Append(_ context.Context, row T) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.appendErr != nil {
		return w.appendErr
	}
	w.rows = append(w.rows, row)
	return nil
}

func (w *memWriter[T]) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func (w *memWriter[T]) Rows() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]T(nil), w.rows...)
}

// feedSource delivers a fixed list of envelopes. When hold is set it then
// blocks until the context ends; otherwise it returns err.
type feedSource struct {
	envs []*domain.FeedEnvelope
	hold bool
	err  error
}

func (s *feedSource) Subscribe(ctx context.Context, handler domain.FeedHandler) error {
	for _, env := range s.envs {
		if err := handler(ctx, env); err != nil {
			return err
		}
	}
	if s.hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

// searchSource replays pages in order and records every query.
type searchSource struct {
	pages   []domain.SearchPage
	errAt   int
	queries []domain.SearchQuery
}

func (s *searchSource) SearchPosts(_ context.Context, q domain.SearchQuery) (domain.SearchPage, error) {
	s.queries = append(s.queries, q)
	n := len(s.queries) - 1
	if s.errAt > 0 && n+1 == s.errAt {
		return domain.SearchPage{}, errors.New("upstream unavailable")
	}
	if n >= len(s.pages) {
		return domain.SearchPage{}, nil
	}
	return s.pages[n], nil
}

type edgeLister struct {
	pages   []domain.EdgePage
	errAt   int
	cursors []string
}

func (l *edgeLister) ListEdges(_ context.Context, _ string, cursor string) (domain.EdgePage, error) {
	l.cursors = append(l.cursors, cursor)
	n := len(l.cursors) - 1
	if l.errAt > 0 && n+1 == l.errAt {
		return domain.EdgePage{}, errors.New("page failed")
	}
	if n >= len(l.pages) {
		return domain.EdgePage{}, nil
	}
	return l.pages[n], nil
}

type recordStore struct {
	posts map[string]*domain.PostView
	err   error
	calls int
}

func (s *recordStore) GetRecord(_ context.Context, uri string) (*domain.PostView, bool, error) {
	s.calls++
	if s.err != nil {
		return nil, false, s.err
	}
	p, ok := s.posts[uri]
	return p, ok, nil
}

type profileStore struct {
	profiles map[string]*domain.Profile
	calls    int
}

func (s *profileStore) GetProfile(_ context.Context, actor string) (*domain.Profile, bool, error) {
	s.calls++
	p, ok := s.profiles[actor]
	return p, ok, nil
}

func feedPost(did, rkey, text string) *domain.FeedEnvelope {
	return &domain.FeedEnvelope{
		Repo:       did,
		Revision:   "3l" + rkey,
		Sequence:   1700000000000000,
		Operation:  domain.OperationCreate,
		Collection: domain.CollectionPost,
		RKey:       rkey,
		CID:        "bafy" + rkey,
		Record: &domain.Record{
			Type:      domain.CollectionPost,
			Text:      text,
			CreatedAt: "2024-05-01T12:00:00.000Z",
		},
	}
}

func searchPost(uri, text string, created time.Time) domain.PostView {
	return domain.PostView{
		URI:    uri,
		CID:    "bafy",
		Author: domain.ProfileBasic{DID: "did:plc:alice", Handle: "alice.bsky.social"},
		Record: domain.Record{
			Type:      domain.CollectionPost,
			Text:      text,
			CreatedAt: created.UTC().Format(time.RFC3339Nano),
		},
		IndexedAt: created.UTC().Format(time.RFC3339Nano),
	}
}
