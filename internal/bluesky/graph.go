package bluesky

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/blackmichael/bsky-collect/internal/domain"
)

// maxGraphPage is the page size limit of the graph endpoints.
const maxGraphPage = 100

type followersResponse struct {
	Followers []domain.ProfileBasic `json:"followers"`
	Cursor    string                `json:"cursor"`
}

type followsResponse struct {
	Follows []domain.ProfileBasic `json:"follows"`
	Cursor  string                `json:"cursor"`
}

type repostedByResponse struct {
	RepostedBy []domain.ProfileBasic `json:"repostedBy"`
	Cursor     string                `json:"cursor"`
}

func pageParams(key, value, cursor string) url.Values {
	params := url.Values{}
	params.Set(key, value)
	params.Set("limit", strconv.Itoa(maxGraphPage))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return params
}

// GetFollowers fetches one page of accounts following actor.
func (c *Client) GetFollowers(ctx context.Context, actor, cursor string) (domain.EdgePage, error) {
	var resp followersResponse
	if err := c.get(ctx, "app.bsky.graph.getFollowers", pageParams("actor", actor, cursor), &resp); err != nil {
		return domain.EdgePage{}, fmt.Errorf("get followers of %s: %w", actor, err)
	}
	return domain.EdgePage{Edges: resp.Followers, Cursor: resp.Cursor}, nil
}

// GetFollows fetches one page of accounts actor follows.
func (c *Client) GetFollows(ctx context.Context, actor, cursor string) (domain.EdgePage, error) {
	var resp followsResponse
	if err := c.get(ctx, "app.bsky.graph.getFollows", pageParams("actor", actor, cursor), &resp); err != nil {
		return domain.EdgePage{}, fmt.Errorf("get follows of %s: %w", actor, err)
	}
	return domain.EdgePage{Edges: resp.Follows, Cursor: resp.Cursor}, nil
}

// GetRepostedBy fetches one page of accounts that reposted the post at uri.
func (c *Client) GetRepostedBy(ctx context.Context, uri, cursor string) (domain.EdgePage, error) {
	var resp repostedByResponse
	if err := c.get(ctx, "app.bsky.feed.getRepostedBy", pageParams("uri", uri, cursor), &resp); err != nil {
		return domain.EdgePage{}, fmt.Errorf("get reposted by of %s: %w", uri, err)
	}
	return domain.EdgePage{Edges: resp.RepostedBy, Cursor: resp.Cursor}, nil
}

// ListerFunc adapts a page function to domain.GraphLister.
type ListerFunc func(ctx context.Context, subject, cursor string) (domain.EdgePage, error)

// ListEdges implements domain.GraphLister.
func (f ListerFunc) ListEdges(ctx context.Context, subject, cursor string) (domain.EdgePage, error) {
	return f(ctx, subject, cursor)
}

// Lister returns the page function for a graph kind.
func (c *Client) Lister(kind domain.GraphKind) (domain.GraphLister, error) {
	switch kind {
	case domain.GraphFollowers:
		return ListerFunc(c.GetFollowers), nil
	case domain.GraphFollowing:
		return ListerFunc(c.GetFollows), nil
	case domain.GraphRepostedBy:
		return ListerFunc(c.GetRepostedBy), nil
	}
	return nil, fmt.Errorf("unknown graph kind %q", kind)
}
