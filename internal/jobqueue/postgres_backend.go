package jobqueue

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRecord is the gorm model backing PostgresBackend, grounded on the
// teacher's internal/ingestion/repository.go sensorDataModel (gorm
// column tags, TableName, CreateInBatches for bulk writes).
type jobRecord struct {
	ID            string `gorm:"column:id;primaryKey"`
	Queue         string `gorm:"column:queue;index"`
	Kind          string `gorm:"column:kind"`
	Payload       []byte `gorm:"column:payload"`
	Compressed    bool   `gorm:"column:compressed"`
	Attempts      int    `gorm:"column:attempts"`
	MaxAttempts   int    `gorm:"column:max_attempts"`
	Status        string `gorm:"column:status;index"`
	LastError     string `gorm:"column:last_error"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	NextAttemptAt time.Time `gorm:"column:next_attempt_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (jobRecord) TableName() string { return "ingest_jobs" }

func toRecord(j *Job) jobRecord {
	return jobRecord{
		ID:            j.ID,
		Queue:         j.Queue,
		Kind:          string(j.Kind),
		Payload:       j.Payload,
		Compressed:    j.Compressed,
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		Status:        string(j.Status),
		LastError:     j.LastError,
		CreatedAt:     j.CreatedAt,
		NextAttemptAt: j.NextAttemptAt,
		UpdatedAt:     time.Now(),
	}
}

func fromRecord(r jobRecord) *Job {
	return &Job{
		ID:            r.ID,
		Queue:         r.Queue,
		Kind:          Kind(r.Kind),
		Payload:       r.Payload,
		Compressed:    r.Compressed,
		Attempts:      r.Attempts,
		MaxAttempts:   r.MaxAttempts,
		Status:        Status(r.Status),
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt,
		NextAttemptAt: r.NextAttemptAt,
	}
}

// PostgresBackend is the durable Backend, satisfying spec §4.3's
// requirement that queued batches survive a process restart.
type PostgresBackend struct {
	db *gorm.DB
}

// NewPostgresBackend opens a connection (jackc/pgx via gorm's postgres
// driver, as the teacher does for its repositories) and ensures the
// ingest_jobs table exists.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("migrate job store: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) Enqueue(ctx context.Context, job *Job) error {
	rec := toRecord(job)
	if err := b.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue claims the oldest ready row with SELECT ... FOR UPDATE SKIP
// LOCKED inside a transaction, so multiple worker processes can share
// one Postgres-backed queue without double-claiming a job.
func (b *PostgresBackend) Dequeue(ctx context.Context, queue string) (*Job, error) {
	var result *Job
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec jobRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND status = ? AND next_attempt_at <= ?", queue, string(StatusPending), time.Now()).
			Order("created_at ASC").
			First(&rec).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNoJob
			}
			return err
		}

		rec.Status = string(StatusRunning)
		rec.UpdatedAt = time.Now()
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		result = fromRecord(rec)
		return nil
	})
	if err != nil {
		if err == ErrNoJob {
			return nil, ErrNoJob
		}
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return result, nil
}

func (b *PostgresBackend) Complete(ctx context.Context, job *Job) error {
	return b.db.WithContext(ctx).Model(&jobRecord{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{"status": string(StatusCompleted), "updated_at": time.Now()}).Error
}

func (b *PostgresBackend) Retry(ctx context.Context, job *Job, after time.Duration, lastErr string) error {
	job.Attempts++
	return b.db.WithContext(ctx).Model(&jobRecord{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":          string(StatusPending),
			"attempts":        job.Attempts,
			"last_error":      lastErr,
			"next_attempt_at": time.Now().Add(after),
			"updated_at":      time.Now(),
		}).Error
}

func (b *PostgresBackend) DeadLetter(ctx context.Context, job *Job, lastErr string) error {
	job.Attempts++
	return b.db.WithContext(ctx).Model(&jobRecord{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     string(StatusDead),
			"attempts":   job.Attempts,
			"last_error": lastErr,
			"updated_at": time.Now(),
		}).Error
}

func (b *PostgresBackend) Stats(ctx context.Context, queue string) (Stats, error) {
	var s Stats
	counts := []struct {
		Status string
		Count  int64
	}{}
	err := b.db.WithContext(ctx).Model(&jobRecord{}).
		Select("status, count(*) as count").
		Where("queue = ?", queue).
		Group("status").
		Find(&counts).Error
	if err != nil {
		return s, fmt.Errorf("job store stats: %w", err)
	}
	for _, c := range counts {
		switch Status(c.Status) {
		case StatusPending:
			s.Pending = c.Count
		case StatusRunning:
			s.Running = c.Count
		case StatusCompleted:
			s.Completed = c.Count
		case StatusFailed:
			s.Failed = c.Count
		case StatusDead:
			s.Dead = c.Count
		}
	}
	return s, nil
}

// Trim deletes the oldest completed/dead rows beyond keepCompleted/
// keepFailed, per spec §6's keep_completed_*/keep_failed_* knobs.
func (b *PostgresBackend) Trim(ctx context.Context, queue string, keepCompleted, keepFailed int) error {
	if err := trimStatus(ctx, b.db, queue, string(StatusCompleted), keepCompleted); err != nil {
		return err
	}
	return trimStatus(ctx, b.db, queue, string(StatusDead), keepFailed)
}

func trimStatus(ctx context.Context, db *gorm.DB, queue, status string, keep int) error {
	var ids []string
	err := db.WithContext(ctx).Model(&jobRecord{}).
		Where("queue = ? AND status = ?", queue, status).
		Order("created_at DESC").
		Offset(keep).
		Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("trim select: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Where("id IN ?", ids).Delete(&jobRecord{}).Error
}

func (b *PostgresBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
