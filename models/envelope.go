package models

import "encoding/json"

// Envelope is the wire form of one record as exchanged with the network
// layer. It is either a content record (Payload holds the family-specific
// JSON) or a tombstone (Deleted is set and Payload is empty). The engine
// never looks inside Payload except through the family's record type.
type Envelope struct {
	Guid    Guid            `json:"id"`
	Deleted bool            `json:"deleted,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// ServerModified is the server modification time of the record within
	// the pull it arrived in. Zero for outgoing envelopes.
	ServerModified ServerTimestamp `json:"-"`
}

// NewTombstone builds a deletion marker envelope for guid.
func NewTombstone(guid Guid) Envelope {
	return Envelope{Guid: guid, Deleted: true}
}

// NewEnvelope serializes v into a content envelope for guid.
func NewEnvelope(guid Guid, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Guid: guid, Payload: raw}, nil
}

// IsTombstone reports whether the envelope is a deletion marker.
func (e Envelope) IsTombstone() bool {
	return e.Deleted
}

// OutgoingChangeset is the result of one reconciliation pass: the set of
// records the network layer should push for a collection.
type OutgoingChangeset struct {
	Collection string
	Timestamp  ServerTimestamp
	Changes    []Envelope
}
