package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func newQueue(t *testing.T) (*Queue, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest(&DeferredTask{})
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewQueue(QueueParam{DB: conn, Log: zap.NewNop(), GenID: node, Clock: clock.NewFakeClock(now)}), conn
}

func TestRunDueOnlyRunsDueTasksOnce(t *testing.T) {
	q, conn := newQueue(t)
	ctx := context.Background()

	var seen []snowflake.ID
	q.Register(KindTransferResolve, func(ctx context.Context, tx *gorm.DB, task *DeferredTask) error {
		seen = append(seen, task.SubjectID)
		return nil
	})

	require.NoError(t, q.Enqueue(ctx, conn, KindTransferResolve, 1, now.Add(-time.Minute), ""))
	require.NoError(t, q.Enqueue(ctx, conn, KindTransferResolve, 1, now.Add(-time.Minute), ""))
	require.NoError(t, q.Enqueue(ctx, conn, KindTransferResolve, 2, now.Add(time.Hour), ""))

	n, err := q.RunDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []snowflake.ID{1}, seen)

	n, err = q.RunDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []snowflake.ID{1, 2}, seen)

	n, err = q.RunDue(ctx, now.Add(3*time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailedTaskRollsBackAndRetriesLater(t *testing.T) {
	q, conn := newQueue(t)
	ctx := context.Background()

	calls := 0
	q.Register(KindTransferResolve, func(ctx context.Context, tx *gorm.DB, task *DeferredTask) error {
		calls++
		if calls == 1 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, q.Enqueue(ctx, conn, KindTransferResolve, 5, now, "resolve:5"))

	n, err := q.RunDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var task DeferredTask
	require.NoError(t, conn.First(&task).Error)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "not yet", task.LastError)
	assert.Nil(t, task.CompletedAt)

	n, err = q.RunDue(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, conn.First(&task).Error)
	assert.NotNil(t, task.CompletedAt)
}
