package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/editor"
	"github.com/yunyaopan/pcd-workflowplus/pkg/llm"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/repositories"
)

type sessionTestContext struct {
	svc   SessionService
	mock  *llm.MockCodeGenerator
	repo  *mockTransformationRepo
	store repositories.SessionStore
	ctx   context.Context
}

func setupSessionTest(t *testing.T) *sessionTestContext {
	t.Helper()
	mock := llm.NewMockCodeGenerator(ordersCode)
	repo := newMockTransformationRepo()
	store := repositories.NewMemorySessionStore(time.Hour)
	svc := NewSessionService(
		store,
		NewTransformationService(repo, zap.NewNop()),
		NewLogicGenerator(mock, zap.NewNop()),
		newSandboxTester(nil),
		editor.New(nil),
		zap.NewNop(),
	)
	return &sessionTestContext{
		svc:   svc,
		mock:  mock,
		repo:  repo,
		store: store,
		ctx:   userContext("user-1"),
	}
}

// seeded creates a session holding the orders snapshot.
func (tc *sessionTestContext) seeded(t *testing.T) *models.EditingSession {
	t.Helper()
	session, err := tc.svc.Create(tc.ctx)
	require.NoError(t, err)
	session.Snapshot = ordersSnapshot()
	require.NoError(t, tc.store.Put(tc.ctx, session))
	return session
}

func TestSessionService_CreateAndGet(t *testing.T) {
	tc := setupSessionTest(t)

	session, err := tc.svc.Create(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, models.DefaultTransformationName, session.Name)
	assert.Empty(t, session.Snapshot.InputTables)

	got, err := tc.svc.Get(tc.ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = tc.svc.Get(userContext("someone-else"), session.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSessionService_ApplyEdit(t *testing.T) {
	tc := setupSessionTest(t)
	session, err := tc.svc.Create(tc.ctx)
	require.NoError(t, err)

	session, tableID, err := tc.svc.ApplyEdit(tc.ctx, session.ID, editor.Edit{Op: editor.OpAddInputTable})
	require.NoError(t, err)
	require.NotEmpty(t, tableID)
	require.Len(t, session.Snapshot.InputTables, 1)

	session, _, err = tc.svc.ApplyEdit(tc.ctx, session.ID, editor.Edit{Op: editor.OpRenameInputTable, TableID: tableID, Name: "Orders"})
	require.NoError(t, err)
	assert.Equal(t, "Orders", session.Snapshot.InputTables[0].Name)

	stored, err := tc.svc.Get(tc.ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Snapshot, stored.Snapshot)
}

func TestSessionService_ApplyEdit_FailureKeepsSnapshot(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	_, _, err := tc.svc.ApplyEdit(tc.ctx, session.ID, editor.Edit{Op: editor.OpRemoveInputTable, TableID: "missing"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	stored, err := tc.svc.Get(tc.ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, ordersSnapshot(), stored.Snapshot)
}

func TestSessionService_GenerateAndTest(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	session, err := tc.svc.Generate(tc.ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, ordersCode, session.GeneratedCode)

	session, err = tc.svc.Test(tc.ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, session.TestResult)
	assert.True(t, session.TestResult.Success, session.TestResult.Message)

	stored, err := tc.svc.Get(tc.ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.TestResult, stored.TestResult)
}

func TestSessionService_EmptyActualSurvivesStore(t *testing.T) {
	tc := setupSessionTest(t)
	tc.mock.Response = `function transformData() { return []; }`
	session := tc.seeded(t)

	_, err := tc.svc.Generate(tc.ctx, session.ID)
	require.NoError(t, err)
	session, err = tc.svc.Test(tc.ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, session.TestResult)
	assert.False(t, session.TestResult.Success)

	stored, err := tc.svc.Get(tc.ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TestResult)
	assert.NotNil(t, stored.TestResult.Actual, "a run that returned [] is not a crash")
	assert.Empty(t, stored.TestResult.Actual)
}

func TestSessionService_GenerateFailureClearsCode(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	_, err := tc.svc.Generate(tc.ctx, session.ID)
	require.NoError(t, err)

	tc.mock.Err = llm.NewUpstreamError(503, "overloaded", nil)
	_, err = tc.svc.Generate(tc.ctx, session.ID)
	require.Error(t, err)

	stored, err := tc.svc.Get(tc.ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.GeneratedCode, "previous code is cleared before generating")
	assert.Equal(t, ordersSnapshot(), stored.Snapshot)
}

func TestSessionService_TestRequiresCode(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	_, err := tc.svc.Test(tc.ctx, session.ID)
	var pre *PreconditionError
	assert.True(t, errors.As(err, &pre))
}

func TestSessionService_EditDropsStaleTestResult(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	_, err := tc.svc.Generate(tc.ctx, session.ID)
	require.NoError(t, err)
	_, err = tc.svc.Test(tc.ctx, session.ID)
	require.NoError(t, err)

	session, _, err = tc.svc.ApplyEdit(tc.ctx, session.ID, editor.Edit{Op: editor.OpSetBaseLogic, Logic: "double it"})
	require.NoError(t, err)
	assert.Nil(t, session.TestResult)
	assert.Equal(t, ordersCode, session.GeneratedCode)
}

func TestSessionService_SaveCreatesThenUpdates(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	name := "Order totals"
	session, err := tc.svc.Save(tc.ctx, session.ID, &SaveSessionRequest{Name: &name})
	require.NoError(t, err)
	require.NotNil(t, session.TransformationID)
	firstID := *session.TransformationID
	assert.Equal(t, "Order totals", session.Name)

	session, _, err = tc.svc.ApplyEdit(tc.ctx, session.ID, editor.Edit{Op: editor.OpSetOutputName, Name: "Grand totals"})
	require.NoError(t, err)

	session, err = tc.svc.Save(tc.ctx, session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, firstID, *session.TransformationID, "second save updates")

	saved, err := tc.repo.GetByID(tc.ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, "Grand totals", saved.OutputTable.Name)
	assert.Len(t, tc.repo.items, 1)
}

func TestSessionService_SaveSelectColumnsWithoutOptions(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	session, colID, err := tc.svc.ApplyEdit(tc.ctx, session.ID, editor.Edit{Op: editor.OpAddInputColumn, TableID: "t1", Type: models.DataTypeSelect})
	require.NoError(t, err)
	_, _, err = tc.svc.ApplyEdit(tc.ctx, session.ID, editor.Edit{Op: editor.OpChangeOutputColumnType, ColumnID: "o1", Type: models.DataTypeSelect})
	require.NoError(t, err)

	session, err = tc.svc.Save(tc.ctx, session.ID, nil)
	require.NoError(t, err)

	target, err := tc.svc.Create(tc.ctx)
	require.NoError(t, err)
	loaded, err := tc.svc.Load(tc.ctx, target.ID, *session.TransformationID)
	require.NoError(t, err)

	added := loaded.Snapshot.InputTables[0].Columns[2]
	assert.Equal(t, colID, added.ID)
	assert.Equal(t, models.DataTypeSelect, added.Type)
	assert.NotNil(t, added.Options)
	assert.Empty(t, added.Options)

	retyped := loaded.Snapshot.OutputTable.Columns[0]
	assert.Equal(t, models.DataTypeSelect, retyped.Type)
	assert.NotNil(t, retyped.Options)
}

func TestSessionService_SaveRequiresName(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	blank := "   "
	_, err := tc.svc.Save(tc.ctx, session.ID, &SaveSessionRequest{Name: &blank})
	require.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, "Please enter a name for the transformation", err.Error())
	assert.Empty(t, tc.repo.items)
}

func TestSessionService_SaveRecreatesDeletedTransformation(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	session, err := tc.svc.Save(tc.ctx, session.ID, nil)
	require.NoError(t, err)
	gone := *session.TransformationID
	require.NoError(t, tc.repo.Delete(tc.ctx, gone))

	session, err = tc.svc.Save(tc.ctx, session.ID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, gone, *session.TransformationID)
}

func TestSessionService_Load(t *testing.T) {
	tc := setupSessionTest(t)
	source := tc.seeded(t)
	source, err := tc.svc.Save(tc.ctx, source.ID, nil)
	require.NoError(t, err)

	target, err := tc.svc.Create(tc.ctx)
	require.NoError(t, err)
	_, err = tc.svc.Generate(tc.ctx, target.ID)
	require.Error(t, err, "empty snapshot has no specification")

	target.GeneratedCode = "stale"
	require.NoError(t, tc.store.Put(tc.ctx, target))

	loaded, err := tc.svc.Load(tc.ctx, target.ID, *source.TransformationID)
	require.NoError(t, err)
	assert.Equal(t, ordersSnapshot(), loaded.Snapshot)
	assert.Equal(t, source.TransformationID, loaded.TransformationID)
	assert.Empty(t, loaded.GeneratedCode)
	assert.Nil(t, loaded.TestResult)

	_, err = tc.svc.Load(tc.ctx, target.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSessionService_Discard(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	assert.ErrorIs(t, tc.svc.Discard(userContext("intruder"), session.ID), apperrors.ErrNotFound)
	require.NoError(t, tc.svc.Discard(tc.ctx, session.ID))

	_, err := tc.svc.Get(tc.ctx, session.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSessionService_BusySession(t *testing.T) {
	tc := setupSessionTest(t)
	session := tc.seeded(t)

	started := make(chan struct{})
	unblock := make(chan struct{})
	tc.mock.GenerateCodeFunc = func(ctx context.Context, prompt, model string) (string, error) {
		close(started)
		<-unblock
		return ordersCode, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := tc.svc.Generate(tc.ctx, session.ID)
		assert.NoError(t, err)
	}()

	<-started
	_, err := tc.svc.Test(tc.ctx, session.ID)
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)
	_, _, err = tc.svc.ApplyEdit(tc.ctx, session.ID, editor.Edit{Op: editor.OpAddInputParam})
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)

	close(unblock)
	wg.Wait()

	_, err = tc.svc.Test(tc.ctx, session.ID)
	assert.NoError(t, err)
}

func TestSessionLocks(t *testing.T) {
	locks := newSessionLocks()

	release, err := locks.acquire("a")
	require.NoError(t, err)

	_, err = locks.acquire("a")
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)

	releaseB, err := locks.acquire("b")
	require.NoError(t, err, "other sessions are independent")
	releaseB()

	release()
	release2, err := locks.acquire("a")
	require.NoError(t, err)
	release2()
}
