package domain

import (
	"context"
	"time"
)

// timestampLayouts are the layouts seen in createdAt and indexedAt values.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a record timestamp; values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ItemTime is the timestamp a pull-mode item is bounded by: the author's
// createdAt, falling back to the index time.
func ItemTime(post *PostView) time.Time {
	if t, ok := ParseTimestamp(post.Record.CreatedAt); ok {
		return t
	}
	t, _ := ParseTimestamp(post.IndexedAt)
	return t
}

type pagerPage struct {
	posts   []PostView
	hasMore bool
}

// searchPager walks a search query page by page. Pages are requested strictly
// one after another with the cursor of the previous page. Posts already seen
// in this run are dropped.
//
// With backfill enabled, when the endpoint stops returning a cursor while the
// query window still produced unseen posts, the pager restarts the query with
// until set to the oldest createdAt seen. The endpoint caps how deep a single
// cursor chain goes; the restart continues past that cap.
type searchPager struct {
	src      SearchSource
	query    string
	since    time.Time
	until    time.Time
	backfill bool

	cursor string
	seen   map[string]struct{}
	oldest time.Time
	fresh  int
}

func newSearchPager(src SearchSource, query string, since, until time.Time, backfill bool) *searchPager {
	return &searchPager{
		src:      src,
		query:    query,
		since:    since,
		until:    until,
		backfill: backfill,
		seen:     make(map[string]struct{}),
	}
}

func (p *searchPager) next(ctx context.Context, limit int) (pagerPage, error) {
	page, err := p.src.SearchPosts(ctx, SearchQuery{
		Query:  p.query,
		Since:  p.since,
		Until:  p.until,
		Cursor: p.cursor,
		Limit:  limit,
	})
	if err != nil {
		return pagerPage{}, err
	}

	out := pagerPage{posts: make([]PostView, 0, len(page.Posts))}
	for _, post := range page.Posts {
		if _, dup := p.seen[post.URI]; dup {
			continue
		}
		p.seen[post.URI] = struct{}{}
		out.posts = append(out.posts, post)

		if t := ItemTime(&post); !t.IsZero() && (p.oldest.IsZero() || t.Before(p.oldest)) {
			p.oldest = t
		}
	}
	p.fresh += len(out.posts)

	switch {
	case len(page.Posts) == 0:
		out.hasMore = false
	case page.Cursor != "":
		p.cursor = page.Cursor
		out.hasMore = true
	case p.backfill && p.fresh > 0 && !p.oldest.IsZero() && (p.until.IsZero() || p.oldest.Before(p.until)):
		p.until = p.oldest
		p.cursor = ""
		p.fresh = 0
		out.hasMore = true
	default:
		out.hasMore = false
	}
	return out, nil
}
