package domain

import (
	"encoding/json"
	"strings"
)

// AT Protocol collection NSIDs the normalizer understands.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionRepost = "app.bsky.feed.repost"
	CollectionLike   = "app.bsky.feed.like"
)

// Embed type discriminators used for quote detection and link extraction.
const (
	EmbedRecord          = "app.bsky.embed.record"
	EmbedRecordWithMedia = "app.bsky.embed.recordWithMedia"
	EmbedExternal        = "app.bsky.embed.external"
)

// Record is the decoded body of a repository record. It covers posts, reposts
// and likes; fields that do not apply to a record type are left zero.
type Record struct {
	// Type is the record's $type discriminator (e.g. app.bsky.feed.post).
	Type      string          `json:"$type"`
	Text      string          `json:"text,omitempty"`
	CreatedAt string          `json:"createdAt,omitempty"`
	Langs     []string        `json:"langs,omitempty"`
	Reply     *ReplyRef       `json:"reply,omitempty"`
	Embed     json.RawMessage `json:"embed,omitempty"`
	Facets    []Facet         `json:"facets,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Labels    json.RawMessage `json:"labels,omitempty"`
	Entities  json.RawMessage `json:"entities,omitempty"`

	// Subject is the liked or reposted record.
	Subject *StrongRef `json:"subject,omitempty"`
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Facet is a rich-text annotation over a byte range of the record text.
type Facet struct {
	Index    FacetIndex     `json:"index"`
	Features []FacetFeature `json:"features"`
}

// FacetIndex is the UTF-8 byte range a facet covers.
type FacetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature is one of a link (URI), mention (DID) or tag (Tag).
type FacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// embedView is the subset of an embed needed to classify it and find its
// referenced record or external link.
type embedView struct {
	Type     string          `json:"$type"`
	Record   json.RawMessage `json:"record,omitempty"`
	External *struct {
		URI string `json:"uri"`
	} `json:"external,omitempty"`
	Media json.RawMessage `json:"media,omitempty"`
}

func (r *Record) embed() *embedView {
	if r == nil || len(r.Embed) == 0 {
		return nil
	}
	var e embedView
	if err := json.Unmarshal(r.Embed, &e); err != nil {
		return nil
	}
	return &e
}

// EmbedType returns the $type of the record's embed, or "" when absent.
func (r *Record) EmbedType() string {
	if e := r.embed(); e != nil {
		return e.Type
	}
	return ""
}

// QuotedURI returns the URI of the record embedded by a quote post.
func (r *Record) QuotedURI() string {
	e := r.embed()
	if e == nil || len(e.Record) == 0 {
		return ""
	}

	switch e.Type {
	case EmbedRecord:
		var ref StrongRef
		if err := json.Unmarshal(e.Record, &ref); err != nil {
			return ""
		}
		return ref.URI
	case EmbedRecordWithMedia:
		var wrapped struct {
			Record StrongRef `json:"record"`
		}
		if err := json.Unmarshal(e.Record, &wrapped); err != nil {
			return ""
		}
		return wrapped.Record.URI
	}
	return ""
}

// ExternalURI returns the link card URI of an external embed, including one
// carried as the media half of a recordWithMedia embed.
func (r *Record) ExternalURI() string {
	e := r.embed()
	if e == nil {
		return ""
	}
	if e.External != nil {
		return e.External.URI
	}
	if e.Type == EmbedRecordWithMedia && len(e.Media) > 0 {
		var media embedView
		if err := json.Unmarshal(e.Media, &media); err == nil && media.External != nil {
			return media.External.URI
		}
	}
	return ""
}

// ProfileBasic is the author view embedded in hydrated posts and graph edges.
type ProfileBasic struct {
	Type         string          `json:"$type,omitempty"`
	DID          string          `json:"did"`
	Handle       string          `json:"handle"`
	DisplayName  string          `json:"displayName,omitempty"`
	Description  string          `json:"description,omitempty"`
	Avatar       string          `json:"avatar,omitempty"`
	Associated   json.RawMessage `json:"associated,omitempty"`
	Viewer       json.RawMessage `json:"viewer,omitempty"`
	Labels       json.RawMessage `json:"labels,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	IndexedAt    string          `json:"indexedAt,omitempty"`
	Verification json.RawMessage `json:"verification,omitempty"`
}

// Profile is the detailed actor view returned by a profile lookup.
type Profile struct {
	ProfileBasic

	FollowersCount int64      `json:"followersCount"`
	FollowsCount   int64      `json:"followsCount"`
	PostsCount     int64      `json:"postsCount"`
	PinnedPost     *StrongRef `json:"pinnedPost,omitempty"`
}

// AssociatedInfo is the decoded form of a profile's "associated" block.
type AssociatedInfo struct {
	Lists        int64 `json:"lists"`
	Feedgens     int64 `json:"feedgens"`
	StarterPacks int64 `json:"starterPacks"`
	Labeler      bool  `json:"labeler"`
}

// AssociatedInfo decodes the associated block; missing values are zero.
func (p *ProfileBasic) AssociatedInfo() AssociatedInfo {
	var info AssociatedInfo
	if p == nil || len(p.Associated) == 0 {
		return info
	}
	_ = json.Unmarshal(p.Associated, &info)
	return info
}

// PostView is a hydrated post as returned by search and getPosts.
type PostView struct {
	URI         string          `json:"uri"`
	CID         string          `json:"cid"`
	Author      ProfileBasic    `json:"author"`
	Record      Record          `json:"record"`
	Embed       json.RawMessage `json:"embed,omitempty"`
	ReplyCount  int64           `json:"replyCount"`
	RepostCount int64           `json:"repostCount"`
	LikeCount   int64           `json:"likeCount"`
	QuoteCount  int64           `json:"quoteCount"`
	IndexedAt   string          `json:"indexedAt"`
	Labels      json.RawMessage `json:"labels,omitempty"`
}

// ATURI is a parsed at:// URI.
type ATURI struct {
	Authority  string
	Collection string
	RKey       string
}

// ParseATURI splits an at://authority/collection/rkey URI. Missing trailing
// segments are left empty; ok is false when the scheme or authority is absent.
func ParseATURI(uri string) (ATURI, bool) {
	rest, found := strings.CutPrefix(uri, "at://")
	if !found || rest == "" {
		return ATURI{}, false
	}
	parts := strings.SplitN(rest, "/", 3)
	u := ATURI{Authority: parts[0]}
	if len(parts) > 1 {
		u.Collection = parts[1]
	}
	if len(parts) > 2 {
		u.RKey = parts[2]
	}
	return u, u.Authority != ""
}

// Path returns collection/rkey.
func (u ATURI) Path() string {
	if u.RKey == "" {
		return u.Collection
	}
	return u.Collection + "/" + u.RKey
}

// BuildATURI joins a repo DID, collection and record key into an at:// URI.
func BuildATURI(did, collection, rkey string) string {
	return "at://" + did + "/" + collection + "/" + rkey
}

// PostURL returns the bsky.app web URL for a post, or "" when the handle or
// record key is unknown.
func PostURL(handle, uri string) string {
	u, ok := ParseATURI(uri)
	if !ok || handle == "" || u.RKey == "" {
		return ""
	}
	return "https://bsky.app/profile/" + handle + "/post/" + u.RKey
}
