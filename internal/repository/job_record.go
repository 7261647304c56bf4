package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/internal/utils"
)

type jobRecordRepository struct {
	db *gorm.DB
}

func NewJobRecordRepository(db *gorm.DB) interfaces.JobRecordRepository {
	return &jobRecordRepository{db: db}
}

// Save upserts by job id; a retried job that later fails overwrites nothing but its own row.
func (r *jobRecordRepository) Save(ctx context.Context, record *models.JobRecord) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "jobRecordRepository.Save")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagJob(span, record.ID, record.Class.String())

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(record).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

const pruneJobRecordsSQL = `DELETE FROM job_records
WHERE class = ? AND state = ?
  AND (id NOT IN (
        SELECT id FROM job_records
        WHERE class = ? AND state = ?
        ORDER BY finished_at DESC
        LIMIT ?)
       OR finished_at < ?)`

func (r *jobRecordRepository) Prune(ctx context.Context, class enum.JobClass, state enum.JobState, keep int, keepFor time.Duration) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "jobRecordRepository.Prune")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("class", class.String())
	span.SetTag("state", state.String())

	// zero keepFor disables the age bound
	cutoff := time.Time{}
	if keepFor > 0 {
		cutoff = utils.Now().Add(-keepFor)
	}

	result := r.db.WithContext(ctx).Exec(pruneJobRecordsSQL, class, state, class, state, keep, cutoff)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, result.Error
	}
	span.SetTag("deleted", result.RowsAffected)
	return result.RowsAffected, nil
}
