package models

// ContactRecord is one flat address-book entry as stored locally and as
// carried inside a sync envelope payload.
type ContactRecord struct {
	Guid  Guid   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`

	Metadata RecordMetadata `json:"-"`
}

// RecordMetadata is the usage bookkeeping every flat record carries. The
// change counter never goes below zero and is only ever decremented by the
// amount snapshotted at upload time.
type RecordMetadata struct {
	TimeCreated      Timestamp `json:"timeCreated"`
	TimeLastUsed     Timestamp `json:"timeLastUsed"`
	TimeLastModified Timestamp `json:"timeLastModified"`
	TimesUsed        int64     `json:"timesUsed"`

	SyncChangeCounter int64 `json:"-"`
}

// MergeMetadata folds other into m: earliest creation time, latest use and
// modification times, highest use count. Zero creation times lose to any
// non-zero one.
func (m *RecordMetadata) MergeMetadata(other RecordMetadata) {
	if m.TimeCreated == 0 || (other.TimeCreated != 0 && other.TimeCreated < m.TimeCreated) {
		m.TimeCreated = other.TimeCreated
	}
	if other.TimeLastUsed > m.TimeLastUsed {
		m.TimeLastUsed = other.TimeLastUsed
	}
	if other.TimeLastModified > m.TimeLastModified {
		m.TimeLastModified = other.TimeLastModified
	}
	if other.TimesUsed > m.TimesUsed {
		m.TimesUsed = other.TimesUsed
	}
}

// EqualContent reports whether two contact records carry the same user
// visible fields, ignoring guid and metadata.
func (c ContactRecord) EqualContent(other ContactRecord) bool {
	return c.Name == other.Name &&
		c.Email == other.Email &&
		c.Phone == other.Phone
}

// IsDupeOf reports whether c could be the same real-world entry as other.
// Used for matching a never-synced local record against an incoming one so
// the local copy adopts the incoming guid instead of duplicating.
func (c ContactRecord) IsDupeOf(other ContactRecord) bool {
	return c.EqualContent(other)
}
