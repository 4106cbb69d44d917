package models

// EarliestVisitTimestamp is Jan 23 1993 in Unix milliseconds, the release
// date of the first graphical browser. No visit can plausibly predate it;
// anything earlier is garbage from a bad clock and gets dropped.
const EarliestVisitTimestamp Timestamp = 727747200000

// VisitTransition describes how a page visit came about.
type VisitTransition uint8

const (
	TransitionLink VisitTransition = iota + 1
	TransitionTyped
	TransitionBookmark
	TransitionEmbed
	TransitionRedirectPermanent
	TransitionRedirectTemporary
	TransitionDownload
	TransitionFramedLink
	TransitionReload
)

// IsValid reports whether t is one of the known transition values.
func (t VisitTransition) IsValid() bool {
	return t >= TransitionLink && t <= TransitionReload
}

type HistoryVisit struct {
	Date       Timestamp       `json:"date"`
	Transition VisitTransition `json:"type"`
}

// HistoryRecord is the payload of a history envelope: one page plus its
// most recent visits, capped by the sender.
type HistoryRecord struct {
	Guid    Guid           `json:"id"`
	Title   string         `json:"title"`
	HistURI string         `json:"histUri"`
	Visits  []HistoryVisit `json:"visits"`
}

// SyncStatus tracks how a local place row relates to the server.
type SyncStatus int64

const (
	// SyncStatusUnknown marks rows whose server relationship is undecided,
	// e.g. after a reset. They upload without a mirror assumption.
	SyncStatusUnknown SyncStatus = iota
	// SyncStatusNew marks rows created locally and never uploaded.
	SyncStatusNew
	// SyncStatusNormal marks rows the server already knows about.
	SyncStatusNormal
)
