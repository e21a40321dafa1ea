//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/database"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/testhelpers"
)

// transformationTestContext holds test dependencies for transformation repository tests.
type transformationTestContext struct {
	t      *testing.T
	testDB *testhelpers.TestDB
	repo   TransformationRepository
	userID string
}

func setupTransformationTest(t *testing.T) *transformationTestContext {
	tc := &transformationTestContext{
		t:      t,
		testDB: testhelpers.GetTestDB(t),
		repo:   NewTransformationRepository(),
		userID: "repo-test-" + uuid.NewString(),
	}
	t.Cleanup(tc.cleanup)
	return tc
}

// ownerContext returns a context scoped to userID.
func (tc *transformationTestContext) ownerContext(userID string) (context.Context, func()) {
	tc.t.Helper()
	ctx := context.Background()
	scope, err := tc.testDB.DB.WithOwner(ctx, userID)
	if err != nil {
		tc.t.Fatalf("failed to create owner scope: %v", err)
	}
	return database.SetOwnerScope(ctx, scope), scope.Close
}

func (tc *transformationTestContext) cleanup() {
	ctx, done := tc.ownerContext(tc.userID)
	defer done()
	scope, _ := database.GetOwnerScope(ctx)
	_, _ = scope.Conn.Exec(ctx, "DELETE FROM transformations")
}

func newTransformation(name string) *models.Transformation {
	s := models.NewSnapshot()
	s.InputTables = append(s.InputTables, models.InputTable{
		ID:      "1700000000000",
		Name:    "Orders",
		Columns: []models.Column{{ID: "1700000000001", Name: "size", Type: models.DataTypeSelect, Options: []string{"S", "M"}}},
		Rows:    []models.Row{{"id": "1700000000002", "1700000000001": "M"}},
	})
	s.OutputTable.Name = "Sizes"
	s.OutputTable.BaseLogic = "one row per order"
	s.OutputTable.Columns = append(s.OutputTable.Columns, models.Column{ID: "o1", Name: "blurb", Type: models.DataTypeText, IsLLM: true, Logic: "describe"})
	return &models.Transformation{
		Name:        name,
		Description: "test",
		InputTables: s.InputTables,
		InputParams: s.InputParams,
		OutputTable: s.OutputTable,
	}
}

func TestTransformationRepository_CreateGet(t *testing.T) {
	tc := setupTransformationTest(t)
	ctx, done := tc.ownerContext(tc.userID)
	defer done()

	tr := newTransformation("Sizes")
	require.NoError(t, tc.repo.Create(ctx, tr))
	assert.NotEqual(t, uuid.Nil, tr.ID)
	assert.Equal(t, tc.userID, tr.UserID)

	got, err := tc.repo.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.Name, got.Name)
	assert.Equal(t, tr.InputTables, got.InputTables)
	assert.Equal(t, tr.OutputTable, got.OutputTable)
	assert.Equal(t, []models.InputParam{}, got.InputParams)
}

func TestTransformationRepository_UpdateAndList(t *testing.T) {
	tc := setupTransformationTest(t)
	ctx, done := tc.ownerContext(tc.userID)
	defer done()

	first := newTransformation("first")
	second := newTransformation("second")
	require.NoError(t, tc.repo.Create(ctx, first))
	require.NoError(t, tc.repo.Create(ctx, second))

	time.Sleep(10 * time.Millisecond)
	first.Name = "first renamed"
	require.NoError(t, tc.repo.Update(ctx, first))
	assert.True(t, first.UpdatedAt.After(first.CreatedAt))

	list, err := tc.repo.ListByUser(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first renamed", list[0].Name, "most recently updated first")
	assert.Equal(t, "second", list[1].Name)
}

func TestTransformationRepository_NotFound(t *testing.T) {
	tc := setupTransformationTest(t)
	ctx, done := tc.ownerContext(tc.userID)
	defer done()

	missing := uuid.New()
	_, err := tc.repo.GetByID(ctx, missing)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, tc.repo.Delete(ctx, missing), apperrors.ErrNotFound)

	tr := newTransformation("ghost")
	tr.ID = missing
	assert.ErrorIs(t, tc.repo.Update(ctx, tr), apperrors.ErrNotFound)
}

func TestTransformationRepository_OwnerIsolation(t *testing.T) {
	tc := setupTransformationTest(t)
	ctx, done := tc.ownerContext(tc.userID)
	tr := newTransformation("private")
	require.NoError(t, tc.repo.Create(ctx, tr))
	done()

	otherCtx, otherDone := tc.ownerContext("someone-else-" + uuid.NewString())
	defer otherDone()

	_, err := tc.repo.GetByID(otherCtx, tr.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, tc.repo.Delete(otherCtx, tr.ID), apperrors.ErrNotFound)

	list, err := tc.repo.ListByUser(otherCtx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTransformationRepository_RequiresScope(t *testing.T) {
	repo := NewTransformationRepository()
	_, err := repo.ListByUser(context.Background())
	assert.Error(t, err)
}
