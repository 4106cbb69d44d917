package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGuid(t *testing.T) {
	seen := make(map[Guid]struct{})
	for i := 0; i < 100; i++ {
		g := NewGuid()
		require.Len(t, string(g), 12)
		require.True(t, g.IsValid(), "generated guid %q must be valid", g)
		_, dup := seen[g]
		require.False(t, dup, "generated guid %q twice", g)
		seen[g] = struct{}{}
	}
}

func TestGuidIsValid(t *testing.T) {
	tests := []struct {
		name string
		guid Guid
		want bool
	}{
		{name: "canonical", guid: "abcDEF123-_z", want: true},
		{name: "root", guid: RootGuid, want: true},
		{name: "menu root", guid: MenuGuid, want: true},
		{name: "too short", guid: "abc", want: false},
		{name: "too long", guid: "abcdefghijklm", want: false},
		{name: "bad character", guid: "abcDEF123+_z", want: false},
		{name: "empty", guid: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.guid.IsValid())
		})
	}
}

func TestMergeMetadata(t *testing.T) {
	local := RecordMetadata{
		TimeCreated:      1000,
		TimeLastUsed:     5000,
		TimeLastModified: 6000,
		TimesUsed:        3,
	}
	incoming := RecordMetadata{
		TimeCreated:      500,
		TimeLastUsed:     7000,
		TimeLastModified: 4000,
		TimesUsed:        2,
	}

	local.MergeMetadata(incoming)

	assert.Equal(t, Timestamp(500), local.TimeCreated, "earliest creation wins")
	assert.Equal(t, Timestamp(7000), local.TimeLastUsed, "latest use wins")
	assert.Equal(t, Timestamp(6000), local.TimeLastModified, "latest modification wins")
	assert.Equal(t, int64(3), local.TimesUsed, "highest use count wins")
}

func TestValidityAtLeast(t *testing.T) {
	assert.Equal(t, ValidityReupload, ValidityValid.AtLeast(ValidityReupload))
	assert.Equal(t, ValidityReplace, ValidityReplace.AtLeast(ValidityReupload))
	assert.Equal(t, ValidityValid, ValidityValid.AtLeast(ValidityValid))
}
