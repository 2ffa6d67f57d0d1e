package domain

// Phase describes which stage of a job a snapshot was observed in.
type Phase string

const (
	// PhaseDiscovering means the total item count is still being determined
	PhaseDiscovering Phase = "discovering"

	// PhaseTransferring means items are being downloaded
	PhaseTransferring Phase = "transferring"

	// PhaseDone means the terminal marker was observed
	PhaseDone Phase = "done"
)

// Snapshot is one structured progress observation derived from the external
// tool's raw output. Snapshots are ephemeral: the scheduler folds them into
// the task record and the hub broadcasts them, but they are never stored
// historically.
type Snapshot struct {
	CompletedCount int `json:"completed_count"`
	// SkippedCount is how many of the completed items were satisfied by
	// files already present in the destination.
	SkippedCount int    `json:"skipped_count,omitempty"`
	TotalCount   int    `json:"total_count"`
	CurrentItem  string `json:"current_item,omitempty"`
	Percent      int    `json:"percent"`
	Phase        Phase  `json:"phase"`
}

// Equal reports whether two snapshots carry the same observable fields.
// The parser uses it to dedupe no-op output chunks.
func (s Snapshot) Equal(other Snapshot) bool {
	return s == other
}
