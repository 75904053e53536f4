package firehose

import (
	"fmt"

	gojson "github.com/goccy/go-json"

	"github.com/blackmichael/bsky-collect/internal/domain"
)

const kindCommit = "commit"

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream.
type jetstreamCommit struct {
	Rev        string            `json:"rev"`
	Operation  string            `json:"operation"`
	Collection string            `json:"collection"`
	RKey       string            `json:"rkey"`
	Record     gojson.RawMessage `json:"record,omitempty"`
	CID        string            `json:"cid"`
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var event jetstreamEvent
	if err := gojson.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}

// envelope converts a commit event into a FeedEnvelope. Identity and account
// events return nil. A record body that does not decode is kept as a nil
// Record, which the normalizer skips.
func (e *jetstreamEvent) envelope() (*domain.FeedEnvelope, error) {
	if e.Kind != kindCommit || e.Commit == nil {
		return nil, nil
	}
	c := e.Commit
	env := &domain.FeedEnvelope{
		Repo:       e.DID,
		Revision:   c.Rev,
		Sequence:   e.TimeUS,
		Operation:  c.Operation,
		Collection: c.Collection,
		RKey:       c.RKey,
		CID:        c.CID,
	}
	if len(c.Record) == 0 || string(c.Record) == "null" {
		return env, nil
	}

	var rec domain.Record
	if err := gojson.Unmarshal(c.Record, &rec); err != nil {
		return env, fmt.Errorf("unmarshal %s record: %w", c.Collection, err)
	}
	env.Record = &rec
	return env, nil
}
