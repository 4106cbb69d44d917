package config

import (
	"flag"
	"time"
)

// ParseFlags parses all configuration flags.
//
// Flags:
//
//	-d database DSN (SQLite path)
//	-c/-config json file path with configs
//	-commit-budget chunked transaction budget (e.g., "1s", "500ms")
//	-max-visits per-page visit cap
//	-max-outgoing-places outgoing history batch limit
func ParseFlags() *StructuredConfig {
	var databaseDSN string
	var jsonConfigPath string
	var commitBudget time.Duration
	var maxVisits int
	var maxOutgoingPlaces int

	flag.StringVar(&databaseDSN, "d", "", "Database DSN")
	flag.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	flag.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")
	flag.DurationVar(&commitBudget, "commit-budget", 0, "Chunked transaction budget (e.g., 1s, 500ms)")
	flag.IntVar(&maxVisits, "max-visits", 0, "Per-page visit cap")
	flag.IntVar(&maxOutgoingPlaces, "max-outgoing-places", 0, "Outgoing history batch limit")

	flag.Parse()

	return &StructuredConfig{
		Storage: Storage{
			DB: DB{
				DSN: databaseDSN,
			},
		},
		Sync: Sync{
			CommitBudget:      commitBudget,
			MaxVisits:         maxVisits,
			MaxOutgoingPlaces: maxOutgoingPlaces,
		},
		JSONFilePath: jsonConfigPath,
	}
}
