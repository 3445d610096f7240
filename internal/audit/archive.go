package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
)

const defaultArchiveBatch = 500

// ArchivePartitionField is the column the warehouse table is partitioned on.
const ArchivePartitionField = "timestamp"

// ArchiveSchema is the warehouse layout archivedRow.Save produces. JSON
// columns are stored as strings so schema drift in audit payloads never
// breaks the export.
func ArchiveSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "id", Type: bigquery.StringFieldType, Required: true},
		{Name: "hotel_id", Type: bigquery.StringFieldType},
		{Name: "table_name", Type: bigquery.StringFieldType, Required: true},
		{Name: "record_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "change_type", Type: bigquery.StringFieldType, Required: true},
		{Name: "source", Type: bigquery.StringFieldType},
		{Name: "old_values", Type: bigquery.StringFieldType},
		{Name: "new_values", Type: bigquery.StringFieldType},
		{Name: "metadata", Type: bigquery.StringFieldType},
		{Name: "correlation_id", Type: bigquery.StringFieldType},
		{Name: ArchivePartitionField, Type: bigquery.TimestampFieldType, Required: true},
	}
}

// RowInserter streams rows into a warehouse table.
type RowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// Archiver copies audit rows out of Postgres before retention deletes them.
type Archiver struct {
	repo  Repository
	sink  RowInserter
	table string
	batch int
}

// NewArchiver returns an archiver writing to table. batch <= 0 uses 500.
func NewArchiver(repo Repository, sink RowInserter, table string, batch int) (*Archiver, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	if sink == nil {
		return nil, fmt.Errorf("row inserter required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("archive table required")
	}
	if batch <= 0 {
		batch = defaultArchiveBatch
	}
	return &Archiver{repo: repo, sink: sink, table: strings.TrimSpace(table), batch: batch}, nil
}

// ArchiveBefore exports every row older than cutoff and returns how many were
// sent. A failed batch stops the export so the caller can skip the purge.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	sent := 0
	for {
		rows, err := a.repo.ListBefore(ctx, cutoff.UTC(), sent, a.batch)
		if err != nil {
			return sent, fmt.Errorf("list audit rows: %w", err)
		}
		if len(rows) == 0 {
			return sent, nil
		}
		payload := make([]any, 0, len(rows))
		for i := range rows {
			payload = append(payload, archivedRow{log: rows[i]})
		}
		if err := a.sink.InsertRows(ctx, a.table, payload); err != nil {
			return sent, fmt.Errorf("insert audit rows: %w", err)
		}
		sent += len(rows)
		if len(rows) < a.batch {
			return sent, nil
		}
	}
}

// archivedRow uses the audit id as insert id so a rerun after a partial
// failure does not duplicate rows in the warehouse.
type archivedRow struct {
	log models.AuditLog
}

var _ bigquery.ValueSaver = archivedRow{}

func (r archivedRow) Save() (map[string]bigquery.Value, string, error) {
	metadata, err := json.Marshal(r.log.Metadata)
	if err != nil {
		return nil, "", err
	}
	var hotelID bigquery.Value
	if r.log.HotelID != nil {
		hotelID = r.log.HotelID.String()
	}
	return map[string]bigquery.Value{
		"id":             r.log.ID.String(),
		"hotel_id":       hotelID,
		"table_name":     r.log.Entity,
		"record_id":      r.log.RecordID,
		"change_type":    string(r.log.ChangeType),
		"source":         r.log.Source,
		"old_values":     nullableJSON(r.log.OldValues),
		"new_values":     nullableJSON(r.log.NewValues),
		"metadata":       string(metadata),
		"correlation_id": r.log.CorrelationID,
		"timestamp":      r.log.Timestamp.UTC(),
	}, r.log.ID.String(), nil
}

func nullableJSON(raw json.RawMessage) bigquery.Value {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
