package domain

import (
	"encoding/json"
	"strconv"

	gojson "github.com/goccy/go-json"
)

// ActionType is the interpreted classification of a row.
type ActionType string

const (
	ActionPost   ActionType = "post"
	ActionReply  ActionType = "reply"
	ActionRepost ActionType = "repost"
	ActionQuote  ActionType = "quote"
	ActionLike   ActionType = "like"
	ActionOther  ActionType = "other"
)

// ActionTypes lists the full taxonomy in a stable order.
var ActionTypes = []ActionType{ActionPost, ActionReply, ActionRepost, ActionQuote, ActionLike, ActionOther}

// ParseActionType validates a taxonomy name.
func ParseActionType(s string) (ActionType, error) {
	for _, t := range ActionTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrInvalidActionType{Value: s}
}

// HasTarget reports whether rows of this type reference another record.
func (a ActionType) HasTarget() bool {
	switch a {
	case ActionReply, ActionQuote, ActionRepost, ActionLike:
		return true
	}
	return false
}

// CanonicalRow is the flat output schema shared by every collection mode.
// Every column is always present; unknown values are null (strings, raw JSON)
// or zero (counts).
type CanonicalRow struct {
	// Author identity
	DID                *string         `json:"did"`
	AuthorHandle       *string         `json:"author_handle"`
	DisplayName        *string         `json:"display_name"`
	Avatar             *string         `json:"avatar"`
	AccountCreation    *string         `json:"account_creation"`
	Description        *string         `json:"description"`
	Verification       json.RawMessage `json:"verification"`
	Viewer             json.RawMessage `json:"viewer"`
	FollowersCount     int64           `json:"followers_count"`
	FollowsCount       int64           `json:"follows_count"`
	PostsCount         int64           `json:"posts_count"`
	PinnedPost         *StrongRef      `json:"pinned_post"`
	AuthorFeedgens     int64           `json:"author_feedgens"`
	AuthorLabeler      bool            `json:"author_labeler"`
	AuthorLists        int64           `json:"author_lists"`
	AuthorStarterPacks int64           `json:"author_starter_packs"`
	AuthorLabels       json.RawMessage `json:"author_labels"`

	// Record identity
	URI        *string    `json:"uri"`
	Collection *string    `json:"collection"`
	Path       *string    `json:"path"`
	CID        *string    `json:"cid"`
	Action     *string    `json:"action"`
	Revision   *string    `json:"revision"`
	Sequence   *int64     `json:"sequence"`
	ActionType ActionType `json:"action_type"`

	// Content
	PostURL      *string         `json:"post_url"`
	Text         *string         `json:"text"`
	CreatedAt    *string         `json:"created_at"`
	IndexedAt    *string         `json:"indexed_at"`
	PyType       *string         `json:"py_type"`
	Langs        []string        `json:"langs"`
	Hashtags     []string        `json:"hashtags"`
	EmbeddedURLs []string        `json:"embedded_urls"`
	Mentions     []string        `json:"mentions"`
	ReplyCount   int64           `json:"reply_count"`
	RepostCount  int64           `json:"repost_count"`
	QuoteCount   int64           `json:"quote_count"`
	LikeCount    int64           `json:"like_count"`
	Facets       []Facet         `json:"facets"`
	Entities     json.RawMessage `json:"entities"`
	Labels       json.RawMessage `json:"labels"`
	Embed        json.RawMessage `json:"embed"`

	// Target, only for reply/quote/repost/like
	TargetDID         *string `json:"target_did"`
	TargetHandle      *string `json:"target_handle"`
	TargetDisplayName *string `json:"target_display_name"`
	TargetPostURI     *string `json:"target_post_uri"`
	TargetPostURL     *string `json:"target_post_url"`
	TargetDataText    *string `json:"target_data_text"`
}

// CanonicalColumns is the column order of CanonicalRow in tabular output.
var CanonicalColumns = []string{
	"did", "author_handle", "display_name", "avatar", "account_creation", "description",
	"verification", "viewer", "followers_count", "follows_count", "posts_count", "pinned_post",
	"author_feedgens", "author_labeler", "author_lists", "author_starter_packs", "author_labels",
	"uri", "collection", "path", "cid", "action", "revision", "sequence", "action_type",
	"post_url", "text", "created_at", "indexed_at", "py_type", "langs", "hashtags",
	"embedded_urls", "mentions", "reply_count", "repost_count", "quote_count", "like_count",
	"facets", "entities", "labels", "embed",
	"target_did", "target_handle", "target_display_name", "target_post_uri", "target_post_url",
	"target_data_text",
}

// Columns implements output.Row.
func (r *CanonicalRow) Columns() []string { return CanonicalColumns }

// Values renders the row in CanonicalColumns order. Nested structures are
// JSON-encoded inline; nulls render as empty strings.
func (r *CanonicalRow) Values() ([]string, error) {
	enc := cellEncoder{}
	vals := []string{
		str(r.DID), str(r.AuthorHandle), str(r.DisplayName), str(r.Avatar), str(r.AccountCreation), str(r.Description),
		raw(r.Verification), raw(r.Viewer), itoa(r.FollowersCount), itoa(r.FollowsCount), itoa(r.PostsCount), enc.json(r.PinnedPost),
		itoa(r.AuthorFeedgens), strconv.FormatBool(r.AuthorLabeler), itoa(r.AuthorLists), itoa(r.AuthorStarterPacks), raw(r.AuthorLabels),
		str(r.URI), str(r.Collection), str(r.Path), str(r.CID), str(r.Action), str(r.Revision), i64(r.Sequence), string(r.ActionType),
		str(r.PostURL), str(r.Text), str(r.CreatedAt), str(r.IndexedAt), str(r.PyType), enc.json(r.Langs), enc.json(r.Hashtags),
		enc.json(r.EmbeddedURLs), enc.json(r.Mentions), itoa(r.ReplyCount), itoa(r.RepostCount), itoa(r.QuoteCount), itoa(r.LikeCount),
		enc.json(r.Facets), raw(r.Entities), raw(r.Labels), raw(r.Embed),
		str(r.TargetDID), str(r.TargetHandle), str(r.TargetDisplayName), str(r.TargetPostURI), str(r.TargetPostURL),
		str(r.TargetDataText),
	}
	if enc.err != nil {
		return nil, enc.err
	}
	return vals, nil
}

// FollowerRow is a relationship snapshot: one account on the far side of a
// follower, following or reposted-by edge.
type FollowerRow struct {
	DID          *string         `json:"did"`
	Handle       *string         `json:"handle"`
	Associated   json.RawMessage `json:"associated"`
	Avatar       *string         `json:"avatar"`
	CreatedAt    *string         `json:"created_at"`
	Description  *string         `json:"description"`
	DisplayName  *string         `json:"display_name"`
	IndexedAt    *string         `json:"indexed_at"`
	Labels       json.RawMessage `json:"labels"`
	Verification json.RawMessage `json:"verification"`
	Viewer       json.RawMessage `json:"viewer"`
	PyType       *string         `json:"py_type"`
}

// FollowerColumns is the column order of FollowerRow in tabular output.
var FollowerColumns = []string{
	"did", "handle", "associated", "avatar", "created_at", "description", "display_name",
	"indexed_at", "labels", "verification", "viewer", "py_type",
}

// Columns implements output.Row.
func (r *FollowerRow) Columns() []string { return FollowerColumns }

// Values renders the row in FollowerColumns order.
func (r *FollowerRow) Values() ([]string, error) {
	return []string{
		str(r.DID), str(r.Handle), raw(r.Associated), str(r.Avatar), str(r.CreatedAt), str(r.Description),
		str(r.DisplayName), str(r.IndexedAt), raw(r.Labels), raw(r.Verification), raw(r.Viewer), str(r.PyType),
	}, nil
}

// profileViewType tags follower rows whose source view carries no $type.
const profileViewType = "app.bsky.actor.defs#profileView"

// NewFollowerRow copies an edge's profile view into a FollowerRow.
func NewFollowerRow(p ProfileBasic) *FollowerRow {
	pyType := p.Type
	if pyType == "" {
		pyType = profileViewType
	}
	return &FollowerRow{
		DID:          nullable(p.DID),
		Handle:       nullable(p.Handle),
		Associated:   rawOrNil(p.Associated),
		Avatar:       nullable(p.Avatar),
		CreatedAt:    nullable(p.CreatedAt),
		Description:  nullable(p.Description),
		DisplayName:  nullable(p.DisplayName),
		IndexedAt:    nullable(p.IndexedAt),
		Labels:       rawOrNil(p.Labels),
		Verification: rawOrNil(p.Verification),
		Viewer:       rawOrNil(p.Viewer),
		PyType:       &pyType,
	}
}

type cellEncoder struct {
	err error
}

func (e *cellEncoder) json(v any) string {
	if e.err != nil {
		return ""
	}
	b, err := gojson.Marshal(v)
	if err != nil {
		e.err = err
		return ""
	}
	if string(b) == "null" {
		return ""
	}
	return string(b)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rawOrNil(r json.RawMessage) json.RawMessage {
	if len(r) == 0 || string(r) == "null" {
		return nil
	}
	return r
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func raw(r json.RawMessage) string {
	if len(r) == 0 {
		return ""
	}
	return string(r)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func i64(n *int64) string {
	if n == nil {
		return ""
	}
	return itoa(*n)
}
