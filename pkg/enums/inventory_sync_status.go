package enums

// InventorySyncStatus is the outcome of the latest push for a (channel, room type, date).
type InventorySyncStatus string

const (
	InventorySyncPending InventorySyncStatus = "pending"
	InventorySyncSuccess InventorySyncStatus = "success"
	InventorySyncFailed  InventorySyncStatus = "failed"
	InventorySyncRetry   InventorySyncStatus = "retry"
)

var validInventorySyncStatuses = values[InventorySyncStatus]{
	InventorySyncPending,
	InventorySyncSuccess,
	InventorySyncFailed,
	InventorySyncRetry,
}

// IsValid reports whether the value is a known InventorySyncStatus.
func (v InventorySyncStatus) IsValid() bool {
	return validInventorySyncStatuses.has(v)
}

// ParseInventorySyncStatus converts raw input into a InventorySyncStatus.
func ParseInventorySyncStatus(value string) (InventorySyncStatus, error) {
	return validInventorySyncStatuses.parse(value, "inventory sync status")
}
