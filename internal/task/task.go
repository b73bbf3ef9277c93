// Package task stores durable deferred work that the scheduler runs once
// its time has come.
package task

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KindTransferResolve = "transfer.resolve"

	defaultMaxAttempts = 10
	retryBackoff       = time.Minute
)

type DeferredTask struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Kind        string       `gorm:"type:varchar(64);not null;index"`
	SubjectID   snowflake.ID `gorm:"not null;index"`
	RunAt       time.Time    `gorm:"not null;index"`
	DedupeKey   string       `gorm:"type:varchar(191);not null;uniqueIndex"`
	Attempts    int          `gorm:"not null;default:0"`
	LastError   string       `gorm:"type:text"`
	CompletedAt *time.Time   `gorm:"index"`
	CreatedAt   time.Time
}

func (DeferredTask) TableName() string { return "deferred_tasks" }

// Handler runs inside a savepoint; an error rolls back only its own writes.
type Handler func(ctx context.Context, tx *gorm.DB, task *DeferredTask) error

type QueueParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Queue struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	handlers map[string]Handler
}

func NewQueue(p QueueParam) *Queue {
	return &Queue{
		db:       p.DB,
		log:      p.Log.Named("task.queue"),
		genID:    p.GenID,
		clock:    p.Clock,
		handlers: map[string]Handler{},
	}
}

var Module = fx.Module("task",
	fx.Provide(NewQueue),
)

// Register binds a handler to a kind. Not safe once RunDue has started.
func (q *Queue) Register(kind string, handler Handler) {
	q.handlers[kind] = handler
}

// Enqueue schedules work in the caller's transaction. A repeated dedupe key
// is ignored.
func (q *Queue) Enqueue(ctx context.Context, tx *gorm.DB, kind string, subjectID snowflake.ID, runAt time.Time, dedupeKey string) error {
	if dedupeKey == "" {
		dedupeKey = kind + ":" + subjectID.String()
	}
	row := &DeferredTask{
		ID:        q.genID.Generate(),
		Kind:      kind,
		SubjectID: subjectID,
		RunAt:     runAt,
		DedupeKey: dedupeKey,
		CreatedAt: q.clock.Now(),
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(row).Error
}

// RunDue processes up to limit tasks due at now, one transaction each.
func (q *Queue) RunDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	processed := 0
	for processed < limit {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		claimed := false
		err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var task DeferredTask
			result := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
				Where("completed_at IS NULL AND run_at <= ? AND attempts < ?", now, defaultMaxAttempts).
				Order("run_at ASC, id ASC").
				Limit(1).
				Find(&task)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return nil
			}
			claimed = true
			return q.run(ctx, tx, &task, now)
		})
		if err != nil {
			return processed, err
		}
		if !claimed {
			break
		}
		processed++
	}
	return processed, nil
}

func (q *Queue) run(ctx context.Context, tx *gorm.DB, task *DeferredTask, now time.Time) error {
	handler, ok := q.handlers[task.Kind]
	var runErr error
	if !ok {
		runErr = errNoHandler
	} else {
		runErr = tx.Transaction(func(sp *gorm.DB) error {
			return handler(ctx, sp, task)
		})
	}

	if runErr != nil {
		q.log.Warn("deferred task failed",
			zap.String("task_id", task.ID.String()),
			zap.String("kind", task.Kind),
			zap.Int("attempts", task.Attempts+1),
			zap.Error(runErr),
		)
		return tx.Model(&DeferredTask{}).Where("id = ?", task.ID).Updates(map[string]any{
			"attempts":   task.Attempts + 1,
			"last_error": runErr.Error(),
			"run_at":     now.Add(retryBackoff * time.Duration(task.Attempts+1)),
		}).Error
	}

	return tx.Model(&DeferredTask{}).Where("id = ?", task.ID).Updates(map[string]any{
		"attempts":     task.Attempts + 1,
		"completed_at": now,
	}).Error
}
