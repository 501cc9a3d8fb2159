package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to the database named by RHQ_TEST_DATABASE_URL and
// applies migrations. Tests skip when the variable is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("RHQ_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RHQ_TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, RunMigrations(ctx, db))

	_, err = db.ExecContext(ctx, `TRUNCATE background_tasks`)
	require.NoError(t, err)
	return db
}

func finishedTask(t *testing.T, appID string, start time.Time) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(appID, "Upscaler", []domain.NodeInfo{
		{NodeID: "1", FieldName: "image", FieldValue: "a.png", FieldType: domain.FieldTypeImage},
	})
	require.NoError(t, err)
	task.StartTime = start.UTC().Truncate(time.Microsecond)
	task.RemoteJobID = "job-" + appID
	task.Result = []domain.Output{{FileURL: "https://cdn/x.png", FileType: "png"}}
	cost := 2.5
	task.CostUnits = &cost
	task.Finish(domain.TaskStatusSuccess, start.Add(time.Minute))
	return task
}

func TestPostgresTaskStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewPostgresTaskStore(db)

	base := time.Now().Add(-time.Hour)
	older := finishedTask(t, "app-a", base)
	newer := finishedTask(t, "app-b", base.Add(time.Minute))

	require.NoError(t, s.Save(ctx, newer))
	require.NoError(t, s.Save(ctx, older))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, newer.ID, list[1].ID)

	got := list[0]
	assert.Equal(t, older.Params, got.Params)
	assert.Equal(t, older.Result, got.Result)
	assert.Equal(t, domain.TaskStatusSuccess, got.Status)
	require.NotNil(t, got.CostUnits)
	assert.InDelta(t, 2.5, *got.CostUnits, 0.0001)
	require.NotNil(t, got.EndTime)

	older.Result = nil
	older.Finish(domain.TaskStatusFailed, time.Now())
	older.Error = "cancelled"
	require.NoError(t, s.Save(ctx, older))

	require.NoError(t, s.Delete(ctx, newer.ID, uuid.New()))

	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cancelled", list[0].Error)
	assert.Nil(t, list[0].Result)

	version, err := MigrationVersion(ctx, db)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, int64(1))
}

func TestPostgresTaskStoreRejectsInvalidTask(t *testing.T) {
	t.Parallel()

	s := NewPostgresTaskStore(nil)
	err := s.Save(context.Background(), &domain.Task{})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestPostgresTaskStoreDeleteNothing(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewPostgresTaskStore(nil).Delete(context.Background()))
}
