// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"time"
)

// StructuredConfig is the top-level configuration container for the sync
// engine. It aggregates all sub-configurations and is populated by merging
// values from environment variables, command-line flags, and an optional
// JSON file.
//
// Struct tags:
//   - envPrefix: prefix applied to all nested env tag lookups (caarlos0/env).
//   - env: direct environment variable name for scalar fields.
type StructuredConfig struct {
	// Storage holds configuration for the local persistence backend.
	Storage Storage `envPrefix:"STORAGE_"`

	// Sync holds the reconciliation tuning knobs: transaction budget,
	// visit cap, outgoing batch limits.
	Sync Sync `envPrefix:"SYNC_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and merged after the values
	// already loaded from environment variables and flags.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// Storage groups the configuration for the local storage backend.
type Storage struct {
	// DB holds the local database connection settings.
	DB DB `envPrefix:"DB_"`
}

// DB holds connection settings for the local SQLite database.
type DB struct {
	// DSN is the SQLite data source name, typically a file path with
	// optional driver parameters
	// (e.g. "/home/user/.sync-keeper/places.db?_busy_timeout=5000").
	// Env: STORAGE_DB_DATABASE_URI
	DSN string `env:"DATABASE_URI"`
}

// Sync holds the reconciliation engine tuning parameters.
type Sync struct {
	// CommitBudget is the wall-clock budget of one chunk of a time-chunked
	// write transaction. When a chunk runs past the budget it commits and a
	// fresh transaction is opened, giving the interactive writer a chance
	// to take the database lock (e.g. "1s", "500ms").
	// Env: SYNC_COMMIT_BUDGET
	CommitBudget time.Duration `env:"COMMIT_BUDGET"`

	// MaxVisits is the per-page cap on visits considered during history
	// reconciliation and included in uploaded records.
	// Env: SYNC_MAX_VISITS
	MaxVisits int `env:"MAX_VISITS"`

	// MaxOutgoingPlaces caps how many changed history pages are uploaded
	// in a single sync.
	// Env: SYNC_MAX_OUTGOING_PLACES
	MaxOutgoingPlaces int `env:"MAX_OUTGOING_PLACES"`
}

// Defaults applied by the builder for any Sync field left unset by every
// configuration source.
const (
	DefaultCommitBudget      = time.Second
	DefaultMaxVisits         = 20
	DefaultMaxOutgoingPlaces = 5000
)

// GetStructuredConfig loads, merges, and validates the engine configuration
// from all available sources in the following priority order (earlier
// sources win for non-zero fields):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//  4. Built-in defaults
//
// Returns a fully populated *StructuredConfig or an error if any source
// fails to load or the final config fails validation.
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags().
		withJSON().
		withDefaults().
		build()
}
