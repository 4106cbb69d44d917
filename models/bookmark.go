// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// Well-known bookmark root guids. These are fixed across every device and
// are never uploaded under a different identifier.
const (
	RootGuid    Guid = "root________"
	MenuGuid    Guid = "menu________"
	ToolbarGuid Guid = "toolbar_____"
	UnfiledGuid Guid = "unfiled_____"
	MobileGuid  Guid = "mobile______"
)

// UserContentRoots are the syncable children of the places root, in the
// canonical server order.
var UserContentRoots = []Guid{MenuGuid, ToolbarGuid, UnfiledGuid, MobileGuid}

// BookmarkKind discriminates the bookmark item families on the wire and in
// the synced-items table.
type BookmarkKind int64

const (
	KindBookmark BookmarkKind = iota + 1
	KindQuery
	KindFolder
	KindLivemark
	KindSeparator
)

func (k BookmarkKind) String() string {
	switch k {
	case KindBookmark:
		return "bookmark"
	case KindQuery:
		return "query"
	case KindFolder:
		return "folder"
	case KindLivemark:
		return "livemark"
	case KindSeparator:
		return "separator"
	}
	return "unknown"
}

// BookmarkValidity records how intact an incoming item arrived. Severity is
// monotone: once an item needs a reupload it never goes back to valid, and
// once it needs replacing nothing downgrades that.
type BookmarkValidity int64

const (
	// ValidityValid means the item was stored as sent.
	ValidityValid BookmarkValidity = iota + 1
	// ValidityReupload means the item was fixed up locally and our repaired
	// copy should be pushed back.
	ValidityReupload
	// ValidityReplace means the item was unusable; the local copy, if any,
	// wins and replaces it on the server.
	ValidityReplace
)

// AtLeast returns the more severe of v and other.
func (v BookmarkValidity) AtLeast(other BookmarkValidity) BookmarkValidity {
	if other > v {
		return other
	}
	return v
}

// BookmarkRecord is the decoded payload of a bookmark-family envelope. Which
// fields are meaningful depends on Kind: folders carry Children, queries and
// bookmarks carry URL and Keyword, livemarks carry the feed pair, separators
// carry position only.
type BookmarkRecord struct {
	Guid       Guid         `json:"id"`
	Kind       BookmarkKind `json:"-"`
	ParentGuid Guid         `json:"parentid"`
	DateAdded  Timestamp    `json:"dateAdded"`
	Title      string       `json:"title"`

	URL     string `json:"bmkUri,omitempty"`
	Keyword string `json:"keyword,omitempty"`

	Children []Guid `json:"children,omitempty"`

	FeedURL string `json:"feedUri,omitempty"`
	SiteURL string `json:"siteUri,omitempty"`

	Position int64 `json:"pos,omitempty"`
}
