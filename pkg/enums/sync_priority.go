package enums

// SyncPriority orders coalesced sync queue entries; high jumps ahead of normal.
type SyncPriority string

const (
	SyncPriorityNormal SyncPriority = "normal"
	SyncPriorityHigh   SyncPriority = "high"
)

var validSyncPriorities = values[SyncPriority]{
	SyncPriorityNormal,
	SyncPriorityHigh,
}

// IsValid reports whether the value is a known SyncPriority.
func (v SyncPriority) IsValid() bool {
	return validSyncPriorities.has(v)
}

// Rank orders priorities; higher ranks drain first.
func (v SyncPriority) Rank() int {
	if v == SyncPriorityHigh {
		return 1
	}
	return 0
}
