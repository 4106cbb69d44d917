package config

// validate checks that the final merged [StructuredConfig] satisfies all
// engine invariants before it is used at startup.
//
// Returns nil if the configuration is valid, or a descriptive error otherwise.
func (cfg *StructuredConfig) validate() error {
	if cfg.Storage.DB.DSN == "" {
		return ErrInvalidStorageConfigs
	}

	if cfg.Sync.CommitBudget <= 0 || cfg.Sync.MaxVisits <= 0 || cfg.Sync.MaxOutgoingPlaces <= 0 {
		return ErrInvalidSyncConfigs
	}

	return nil
}
