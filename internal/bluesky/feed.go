package bluesky

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/blackmichael/bsky-collect/internal/domain"
)

const (
	// maxPostsPerLookup is the getPosts batch limit.
	maxPostsPerLookup = 25

	searchTimeLayout = "2006-01-02T15:04:05.000Z"
)

type searchPostsResponse struct {
	Cursor string            `json:"cursor"`
	Posts  []domain.PostView `json:"posts"`
}

type getPostsResponse struct {
	Posts []domain.PostView `json:"posts"`
}

// SearchPosts fetches one page of app.bsky.feed.searchPosts, newest first.
// Since and Until are sent as server-side bounds when set.
func (c *Client) SearchPosts(ctx context.Context, q domain.SearchQuery) (domain.SearchPage, error) {
	params := url.Values{}
	params.Set("q", q.Query)
	params.Set("sort", "latest")
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	if !q.Since.IsZero() {
		params.Set("since", q.Since.UTC().Format(searchTimeLayout))
	}
	if !q.Until.IsZero() {
		params.Set("until", q.Until.UTC().Format(searchTimeLayout))
	}

	var resp searchPostsResponse
	if err := c.get(ctx, "app.bsky.feed.searchPosts", params, &resp); err != nil {
		return domain.SearchPage{}, fmt.Errorf("search posts: %w", err)
	}
	return domain.SearchPage{Posts: resp.Posts, Cursor: resp.Cursor}, nil
}

// GetPosts hydrates up to 25 post URIs. Deleted or hidden posts are simply
// absent from the result.
func (c *Client) GetPosts(ctx context.Context, uris []string) ([]domain.PostView, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	if len(uris) > maxPostsPerLookup {
		return nil, fmt.Errorf("get posts: %d uris exceeds limit of %d", len(uris), maxPostsPerLookup)
	}

	params := url.Values{}
	for _, u := range uris {
		params.Add("uris", u)
	}

	var resp getPostsResponse
	if err := c.get(ctx, "app.bsky.feed.getPosts", params, &resp); err != nil {
		return nil, fmt.Errorf("get posts: %w", err)
	}
	return resp.Posts, nil
}

// GetRecord implements domain.RecordLookup on top of GetPosts.
func (c *Client) GetRecord(ctx context.Context, uri string) (*domain.PostView, bool, error) {
	posts, err := c.GetPosts(ctx, []string{uri})
	if err != nil {
		if isUnavailable(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	for i := range posts {
		if posts[i].URI == uri {
			return &posts[i], true, nil
		}
	}
	return nil, false, nil
}
