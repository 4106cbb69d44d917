// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// Guid is a globally unique record identifier that is stable across all
// devices syncing the same account. The canonical form is twelve characters
// from the URL-safe base64 alphabet, matching what the sync server hands out;
// a handful of well-known root identifiers (see bookmark.go) are also valid.
type Guid string

// guidAlphabet is the set of characters allowed in a canonical Guid.
func isGuidChar(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_'
}

// NewGuid generates a fresh random Guid. The nine random bytes of a UUID
// encode to exactly twelve base64url characters.
func NewGuid() Guid {
	u := uuid.New()
	return Guid(base64.RawURLEncoding.EncodeToString(u[:9]))
}

// IsValid reports whether g is a canonical twelve-character identifier or
// one of the well-known roots.
func (g Guid) IsValid() bool {
	if g.IsBuiltin() {
		return true
	}
	if len(g) != 12 {
		return false
	}
	for i := 0; i < len(g); i++ {
		if !isGuidChar(g[i]) {
			return false
		}
	}
	return true
}

// IsBuiltin reports whether g names one of the well-known bookmark roots.
func (g Guid) IsBuiltin() bool {
	switch g {
	case RootGuid, MenuGuid, ToolbarGuid, UnfiledGuid, MobileGuid:
		return true
	}
	return false
}

func (g Guid) String() string {
	return string(g)
}
