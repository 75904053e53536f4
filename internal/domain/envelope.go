package domain

// Operation kinds carried by feed envelopes.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Mode identifies whether records are pushed by a feed or pulled by pages.
type Mode string

const (
	ModePush Mode = "push"
	ModePull Mode = "pull"
)

// Envelope is a raw record as delivered by a Record Source. It is a closed set:
// *FeedEnvelope and *SearchEnvelope are the only implementations.
type Envelope interface {
	envelope()

	// Mode reports which kind of source produced the envelope.
	Mode() Mode
}

// FeedEnvelope is one repository operation from the real-time feed. The record
// carries only references to other records, never their content.
type FeedEnvelope struct {
	// Repo is the DID of the repository the operation belongs to.
	Repo string

	// Revision is the repository revision after the commit.
	Revision string

	// Sequence is the feed's ordering marker for the event.
	Sequence int64

	// Operation is create, update or delete.
	Operation string

	Collection string
	RKey       string
	CID        string

	// Record is nil for deletes.
	Record *Record
}

func (*FeedEnvelope) envelope() {}

// Mode implements Envelope.
func (*FeedEnvelope) Mode() Mode { return ModePush }

// URI returns the at:// URI of the record the operation touched.
func (e *FeedEnvelope) URI() string {
	return BuildATURI(e.Repo, e.Collection, e.RKey)
}

// SearchEnvelope is one hydrated search result. Its author is embedded and it
// has no operation kind; search results are always existing records.
type SearchEnvelope struct {
	Post PostView
}

func (*SearchEnvelope) envelope() {}

// Mode implements Envelope.
func (*SearchEnvelope) Mode() Mode { return ModePull }
