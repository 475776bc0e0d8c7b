package repository

import (
	"context"
	"fmt"

	"github.com/timmy/confingest/internal/conf"
	"github.com/timmy/confingest/internal/domain"
	"github.com/timmy/confingest/internal/projection"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultBatchSize is the number of rows per INSERT statement.
const DefaultBatchSize = 500

// StanzaTable names the generic stanza batch in WriteResult.
const StanzaTable = "stanzas"

// WriteResult reports one batch write.
type WriteResult struct {
	Table   string
	Written int
	// Skipped is set when rows for the job already existed and nothing
	// was inserted.
	Skipped bool
}

// BatchWriter persists the rows of one job, one table per call.
//
// Each call is one transaction: if the table already holds any row of the
// job the whole batch is skipped, otherwise every row is inserted with
// ON CONFLICT (job_id, natural_key) DO NOTHING. A retried job therefore
// never duplicates rows, and a table is either fully written or untouched.
type BatchWriter struct {
	db        *gorm.DB
	batchSize int
}

// NewBatchWriter creates a writer; batchSize <= 0 uses DefaultBatchSize.
func NewBatchWriter(db *gorm.DB, batchSize int) *BatchWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchWriter{db: db, batchSize: batchSize}
}

// WriteStanzas persists generic stanzas in the given order.
func (w *BatchWriter) WriteStanzas(ctx context.Context, jobID string, stanzas []*conf.Stanza) (WriteResult, error) {
	rows := make([]domain.StanzaRow, 0, len(stanzas))
	for _, s := range stanzas {
		rows = append(rows, stanzaRow(jobID, s))
	}
	return w.write(ctx, StanzaTable, &domain.StanzaRow{}, jobID, rows, len(rows))
}

// WriteRecords persists typed records of one family.
func (w *BatchWriter) WriteRecords(ctx context.Context, jobID string, family projection.Family, records []projection.Record) (WriteResult, error) {
	model, ok := familyModels[family]
	if !ok {
		return WriteResult{}, fmt.Errorf("unknown family %q", family)
	}
	rows, err := familyRows(jobID, family, records)
	if err != nil {
		return WriteResult{}, err
	}
	return w.write(ctx, string(family), model, jobID, rows, len(records))
}

func (w *BatchWriter) write(ctx context.Context, table string, model interface{}, jobID string, rows interface{}, n int) (WriteResult, error) {
	res := WriteResult{Table: table}
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(model).Where("job_id = ?", jobID).Count(&existing).Error; err != nil {
			return fmt.Errorf("check existing %s rows: %w", table, err)
		}
		if existing > 0 {
			res.Skipped = true
			return nil
		}
		if n == 0 {
			return nil
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "natural_key"}},
			DoNothing: true,
		}).CreateInBatches(rows, w.batchSize)
		if result.Error != nil {
			return fmt.Errorf("insert %s rows: %w", table, result.Error)
		}
		res.Written = int(result.RowsAffected)
		return nil
	})
	if err != nil {
		return WriteResult{Table: table}, err
	}
	return res, nil
}

// CountRows returns the number of rows the job has in each table.
func (w *BatchWriter) CountRows(ctx context.Context, jobID string) (map[string]int64, error) {
	counts := make(map[string]int64, len(familyModels)+1)
	tables := map[string]interface{}{StanzaTable: &domain.StanzaRow{}}
	for f, m := range familyModels {
		tables[string(f)] = m
	}
	for name, model := range tables {
		var n int64
		if err := w.db.WithContext(ctx).Model(model).Where("job_id = ?", jobID).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count %s rows: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}
