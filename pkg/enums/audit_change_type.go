package enums

// AuditChangeType labels an append-only audit entry.
type AuditChangeType string

const (
	AuditCreate              AuditChangeType = "create"
	AuditUpdate              AuditChangeType = "update"
	AuditStatusChange        AuditChangeType = "status_change"
	AuditSyncSuccess         AuditChangeType = "sync_success"
	AuditSyncFailure         AuditChangeType = "sync_failure"
	AuditSyncDeadLetter      AuditChangeType = "sync_dead_letter"
	AuditRejectedByInventory AuditChangeType = "rejected_by_inventory"
	AuditRateParity          AuditChangeType = "rate_parity"
	AuditPriceChange         AuditChangeType = "price_change"
	AuditReconciliation      AuditChangeType = "reconciliation"
)

var validAuditChangeTypes = values[AuditChangeType]{
	AuditCreate,
	AuditUpdate,
	AuditStatusChange,
	AuditSyncSuccess,
	AuditSyncFailure,
	AuditSyncDeadLetter,
	AuditRejectedByInventory,
	AuditRateParity,
	AuditPriceChange,
	AuditReconciliation,
}

func (v AuditChangeType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known AuditChangeType.
func (v AuditChangeType) IsValid() bool {
	return validAuditChangeTypes.has(v)
}
