package domain

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Normalizer maps raw envelopes from either source into CanonicalRows. It
// holds no per-run state; the same envelope always yields the same row given
// the same lookup answers.
type Normalizer struct {
	records  RecordLookup
	profiles ProfileLookup
	logger   *zap.Logger
}

// NewNormalizer creates a Normalizer. Either lookup may be nil, in which case
// the corresponding columns are left null.
func NewNormalizer(records RecordLookup, profiles ProfileLookup, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		records:  records,
		profiles: profiles,
		logger:   logger.Named("normalizer"),
	}
}

// Classify interprets a record into the action taxonomy. Only creates are
// interpreted; any other operation is ActionOther.
func Classify(collection, operation string, rec *Record) ActionType {
	if operation != OperationCreate || rec == nil {
		return ActionOther
	}

	switch collection {
	case CollectionPost:
		switch rec.EmbedType() {
		case EmbedRecord, EmbedRecordWithMedia:
			return ActionQuote
		}
		if rec.Reply != nil {
			return ActionReply
		}
		return ActionPost
	case CollectionRepost:
		return ActionRepost
	case CollectionLike:
		return ActionLike
	}
	return ActionOther
}

// TargetURI returns the URI of the record a reply, quote, repost or like
// refers to. Replies resolve to their parent, falling back to the thread root.
func TargetURI(action ActionType, rec *Record) string {
	if rec == nil {
		return ""
	}
	switch action {
	case ActionRepost, ActionLike:
		if rec.Subject != nil {
			return rec.Subject.URI
		}
	case ActionQuote:
		return rec.QuotedURI()
	case ActionReply:
		if rec.Reply != nil {
			if rec.Reply.Parent.URI != "" {
				return rec.Reply.Parent.URI
			}
			return rec.Reply.Root.URI
		}
	}
	return ""
}

// Normalize produces exactly one row for env, or ErrSkippedEnvelope when the
// record type is not recognized. The only other error is context cancellation.
func (n *Normalizer) Normalize(ctx context.Context, env Envelope) (*CanonicalRow, error) {
	row, err := n.Build(env)
	if err != nil {
		return nil, err
	}
	if err := n.Hydrate(ctx, env, row); err != nil {
		return nil, err
	}
	return row, nil
}

// Build maps env to a row from the envelope alone: identity, classification,
// content and extracted text features. It performs no lookups; every column
// Accept reads is set.
func (n *Normalizer) Build(env Envelope) (*CanonicalRow, error) {
	switch e := env.(type) {
	case *FeedEnvelope:
		return buildFeed(e)
	case *SearchEnvelope:
		return buildSearch(e)
	default:
		return nil, fmt.Errorf("%w: unknown envelope %T", ErrSkippedEnvelope, env)
	}
}

// Hydrate fills the columns that need lookups: author profile, engagement
// counts of a firehose post, post URLs and the target columns. row must come
// from Build on the same envelope.
func (n *Normalizer) Hydrate(ctx context.Context, env Envelope, row *CanonicalRow) error {
	switch e := env.(type) {
	case *FeedEnvelope:
		return n.hydrateFeed(ctx, e, row)
	case *SearchEnvelope:
		return n.hydrateSearch(ctx, e, row)
	default:
		return fmt.Errorf("%w: unknown envelope %T", ErrSkippedEnvelope, env)
	}
}

func buildFeed(env *FeedEnvelope) (*CanonicalRow, error) {
	if env.Record == nil || env.Record.Type == "" {
		return nil, fmt.Errorf("%w: %s %s has no record type", ErrSkippedEnvelope, env.Operation, env.Collection)
	}
	rec := env.Record
	seq := env.Sequence

	row := &CanonicalRow{
		DID:        nullable(env.Repo),
		URI:        nullable(env.URI()),
		Collection: nullable(env.Collection),
		Path:       nullable(ATURI{Collection: env.Collection, RKey: env.RKey}.Path()),
		CID:        nullable(env.CID),
		Action:     nullable(env.Operation),
		Revision:   nullable(env.Revision),
		Sequence:   &seq,
		ActionType: Classify(env.Collection, env.Operation, rec),
	}
	fillContent(row, rec)
	return row, nil
}

func buildSearch(env *SearchEnvelope) (*CanonicalRow, error) {
	post := &env.Post
	rec := &post.Record
	if rec.Type == "" {
		return nil, fmt.Errorf("%w: search result %s has no record type", ErrSkippedEnvelope, post.URI)
	}

	u, _ := ParseATURI(post.URI)
	collection := u.Collection
	if collection == "" {
		collection = rec.Type
	}
	action := OperationCreate

	row := &CanonicalRow{
		DID:        nullable(post.Author.DID),
		URI:        nullable(post.URI),
		Collection: nullable(collection),
		Path:       nullable(ATURI{Collection: collection, RKey: u.RKey}.Path()),
		CID:        nullable(post.CID),
		Action:     &action,
		ActionType: Classify(collection, OperationCreate, rec),
	}
	fillContent(row, rec)
	fillCounts(row, post)
	return row, nil
}

func (n *Normalizer) hydrateFeed(ctx context.Context, env *FeedEnvelope, row *CanonicalRow) error {
	if err := n.fillAuthor(ctx, row, env.Repo, nil); err != nil {
		return err
	}

	// The feed carries only the record; counts and indexing time come from
	// the hydrated view when the record is a post that still exists.
	if env.Collection == CollectionPost && env.Operation == OperationCreate {
		uri := env.URI()
		post, found, err := n.lookupRecord(ctx, uri)
		if err != nil {
			return err
		}
		if found {
			fillCounts(row, post)
		}
		row.PostURL = nullable(PostURL(str(row.AuthorHandle), uri))
	}

	return n.fillTarget(ctx, row, env.Record)
}

func (n *Normalizer) hydrateSearch(ctx context.Context, env *SearchEnvelope, row *CanonicalRow) error {
	post := &env.Post
	if err := n.fillAuthor(ctx, row, post.Author.DID, &post.Author); err != nil {
		return err
	}
	row.PostURL = nullable(PostURL(str(row.AuthorHandle), post.URI))
	return n.fillTarget(ctx, row, &post.Record)
}

func fillContent(row *CanonicalRow, rec *Record) {
	row.Text = nullable(rec.Text)
	row.CreatedAt = nullable(rec.CreatedAt)
	row.PyType = nullable(rec.Type)
	row.Langs = rec.Langs
	row.Hashtags = Hashtags(rec)
	row.EmbeddedURLs = EmbeddedURLs(rec)
	row.Mentions = Mentions(rec)
	row.Facets = rec.Facets
	row.Entities = rawOrNil(rec.Entities)
	row.Labels = rawOrNil(rec.Labels)
	row.Embed = rawOrNil(rec.Embed)
}

func fillCounts(row *CanonicalRow, post *PostView) {
	row.ReplyCount = post.ReplyCount
	row.RepostCount = post.RepostCount
	row.QuoteCount = post.QuoteCount
	row.LikeCount = post.LikeCount
	row.IndexedAt = nullable(post.IndexedAt)
	if row.Labels == nil {
		row.Labels = rawOrNil(post.Labels)
	}
}

// fillAuthor populates author columns from the detailed profile, falling back
// to the embedded basic view when the lookup misses.
func (n *Normalizer) fillAuthor(ctx context.Context, row *CanonicalRow, did string, embedded *ProfileBasic) error {
	profile, found, err := n.lookupProfile(ctx, did)
	if err != nil {
		return err
	}

	var basic *ProfileBasic
	switch {
	case found:
		basic = &profile.ProfileBasic
		row.FollowersCount = profile.FollowersCount
		row.FollowsCount = profile.FollowsCount
		row.PostsCount = profile.PostsCount
		row.PinnedPost = profile.PinnedPost
	case embedded != nil:
		basic = embedded
	default:
		return nil
	}

	if basic.DID != "" {
		row.DID = nullable(basic.DID)
	}
	row.AuthorHandle = nullable(basic.Handle)
	row.DisplayName = nullable(basic.DisplayName)
	row.Avatar = nullable(basic.Avatar)
	row.AccountCreation = nullable(basic.CreatedAt)
	row.Description = nullable(basic.Description)
	row.Verification = rawOrNil(basic.Verification)
	row.Viewer = rawOrNil(basic.Viewer)
	row.AuthorLabels = rawOrNil(basic.Labels)

	assoc := basic.AssociatedInfo()
	row.AuthorFeedgens = assoc.Feedgens
	row.AuthorLabeler = assoc.Labeler
	row.AuthorLists = assoc.Lists
	row.AuthorStarterPacks = assoc.StarterPacks
	return nil
}

// fillTarget resolves the referenced record of a non-original row. A missing
// reference leaves every target column null.
func (n *Normalizer) fillTarget(ctx context.Context, row *CanonicalRow, rec *Record) error {
	if !row.ActionType.HasTarget() {
		return nil
	}

	uri := TargetURI(row.ActionType, rec)
	if uri == "" {
		n.logger.Debug("no target uri on record", zap.String("uri", str(row.URI)), zap.String("action_type", string(row.ActionType)))
		return nil
	}

	post, found, err := n.lookupRecord(ctx, uri)
	if err != nil {
		return err
	}
	if !found {
		n.logger.Debug("target unavailable", zap.String("target_uri", uri))
		return nil
	}

	did := post.Author.DID
	if did == "" {
		if u, ok := ParseATURI(uri); ok {
			did = u.Authority
		}
	}
	handle := post.Author.Handle
	displayName := post.Author.DisplayName

	profile, found, err := n.lookupProfile(ctx, did)
	if err != nil {
		return err
	}
	if found {
		if profile.Handle != "" {
			handle = profile.Handle
		}
		if profile.DisplayName != "" {
			displayName = profile.DisplayName
		}
	}

	text := post.Record.Text
	row.TargetDID = nullable(did)
	row.TargetHandle = nullable(handle)
	row.TargetDisplayName = nullable(displayName)
	row.TargetPostURI = nullable(uri)
	row.TargetPostURL = nullable(PostURL(handle, uri))
	row.TargetDataText = nullable(text)
	return nil
}

func (n *Normalizer) lookupRecord(ctx context.Context, uri string) (*PostView, bool, error) {
	if n.records == nil || uri == "" {
		return nil, false, nil
	}
	post, found, err := n.records.GetRecord(ctx, uri)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		n.logger.Warn("record lookup failed, treating as unavailable", zap.String("uri", uri), zap.Error(err))
		return nil, false, nil
	}
	return post, found && post != nil, nil
}

func (n *Normalizer) lookupProfile(ctx context.Context, actor string) (*Profile, bool, error) {
	if n.profiles == nil || actor == "" {
		return nil, false, nil
	}
	profile, found, err := n.profiles.GetProfile(ctx, actor)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		n.logger.Warn("profile lookup failed, treating as unavailable", zap.String("actor", actor), zap.Error(err))
		return nil, false, nil
	}
	return profile, found && profile != nil, nil
}
