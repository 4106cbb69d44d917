package models

// SyncTelemetry summarizes one reconciliation batch. Per-record validation
// failures land here instead of aborting the batch.
type SyncTelemetry struct {
	Applied    int
	Reconciled int
	Failed     int
	Deleted    int
	Outgoing   int
}

// Add folds other into t.
func (t *SyncTelemetry) Add(other SyncTelemetry) {
	t.Applied += other.Applied
	t.Reconciled += other.Reconciled
	t.Failed += other.Failed
	t.Deleted += other.Deleted
	t.Outgoing += other.Outgoing
}
