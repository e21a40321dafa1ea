package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
)

func sampleSession() *models.EditingSession {
	s := models.NewEditingSession("user-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	s.Snapshot.InputTables = []models.InputTable{{
		ID:      "t1",
		Name:    "Orders",
		Columns: []models.Column{{ID: "c1", Name: "qty", Type: models.DataTypeNumber}},
		Rows:    []models.Row{{"id": "r1", "c1": "3"}},
	}}
	s.GeneratedCode = "function transformData() { return []; }"
	s.TestResult = &models.TestResult{Success: false, Expected: []models.CoercedRecord{}, Message: "Test failed. Row count mismatch: expected 1, got 0"}
	return s
}

func TestMemorySessionStore_RoundTrip(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)
	ctx := context.Background()
	s := sampleSession()

	require.NoError(t, store.Put(ctx, s))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	// stored copies are independent of the caller's value
	got.Name = "changed"
	again, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTransformationName, again.Name)
}

func TestMemorySessionStore_Expiry(t *testing.T) {
	store := NewMemorySessionStore(time.Minute).(*memorySessionStore)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()
	s := sampleSession()

	require.NoError(t, store.Put(ctx, s))

	now = now.Add(59 * time.Second)
	_, err := store.Get(ctx, s.ID)
	require.NoError(t, err)

	// Put refreshes the expiry
	require.NoError(t, store.Put(ctx, s))
	now = now.Add(59 * time.Second)
	_, err = store.Get(ctx, s.ID)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemorySessionStore_Delete(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)
	ctx := context.Background()
	s := sampleSession()

	require.NoError(t, store.Put(ctx, s))
	require.NoError(t, store.Delete(ctx, s.ID))
	assert.ErrorIs(t, store.Delete(ctx, s.ID), apperrors.ErrNotFound)

	_, err := store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
