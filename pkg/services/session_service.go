package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/auth"
	"github.com/yunyaopan/pcd-workflowplus/pkg/editor"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/repositories"
)

// ErrMissingName is returned by Save when the session has no usable name.
var ErrMissingName error = &apperrors.ValidationError{Message: "Please enter a name for the transformation"}

// SaveSessionRequest optionally renames the session before saving.
type SaveSessionRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// SessionService is the state manager behind the editor: it owns a user's
// working snapshot, the generated code and the last test result.
type SessionService interface {
	// Create starts an empty session for the caller.
	Create(ctx context.Context) (*models.EditingSession, error)

	// Get returns a session owned by the caller.
	Get(ctx context.Context, id string) (*models.EditingSession, error)

	// ApplyEdit applies one edit to the working snapshot and returns the
	// session together with the id of anything the edit created.
	ApplyEdit(ctx context.Context, id string, edit editor.Edit) (*models.EditingSession, models.EntityID, error)

	// Generate discards the previous code and generates new code for the
	// current snapshot. On failure the session keeps its snapshot and has no code.
	Generate(ctx context.Context, id string) (*models.EditingSession, error)

	// Test runs the generated code against the expected output rows.
	Test(ctx context.Context, id string) (*models.EditingSession, error)

	// Save creates or updates the persisted transformation for the session.
	Save(ctx context.Context, id string, req *SaveSessionRequest) (*models.EditingSession, error)

	// Load replaces the working snapshot with a saved transformation.
	Load(ctx context.Context, id string, transformationID uuid.UUID) (*models.EditingSession, error)

	// Discard deletes the session.
	Discard(ctx context.Context, id string) error
}

type sessionService struct {
	store           repositories.SessionStore
	transformations TransformationService
	generator       LogicGenerator
	tester          TransformationTester
	editor          *editor.Editor
	locks           *sessionLocks
	now             func() time.Time
	logger          *zap.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(
	store repositories.SessionStore,
	transformations TransformationService,
	generator LogicGenerator,
	tester TransformationTester,
	ed *editor.Editor,
	logger *zap.Logger,
) SessionService {
	return &sessionService{
		store:           store,
		transformations: transformations,
		generator:       generator,
		tester:          tester,
		editor:          ed,
		locks:           newSessionLocks(),
		now:             time.Now,
		logger:          logger.Named("sessions"),
	}
}

var _ SessionService = (*sessionService)(nil)

func (s *sessionService) Create(ctx context.Context) (*models.EditingSession, error) {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	session := models.NewEditingSession(userID, s.now().UTC())
	if err := s.store.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.logger.Info("Created editing session",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID))
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, id string) (*models.EditingSession, error) {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id, userID)
}

// load fetches a session and hides sessions of other users.
func (s *sessionService) load(ctx context.Context, id, userID string) (*models.EditingSession, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return session, nil
}

func (s *sessionService) save(ctx context.Context, session *models.EditingSession) error {
	session.UpdatedAt = s.now().UTC()
	if err := s.store.Put(ctx, session); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// exclusive loads the session under its lock and runs fn. Concurrent
// operations on the same session fail with apperrors.ErrSessionBusy.
func (s *sessionService) exclusive(ctx context.Context, id string, fn func(*models.EditingSession) error) (*models.EditingSession, error) {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.load(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sessionService) ApplyEdit(ctx context.Context, id string, edit editor.Edit) (*models.EditingSession, models.EntityID, error) {
	var created models.EntityID
	session, err := s.exclusive(ctx, id, func(session *models.EditingSession) error {
		next, newID, err := s.editor.Apply(session.Snapshot, edit)
		if err != nil {
			return err
		}
		session.Snapshot = next
		// the last result no longer describes the snapshot
		session.TestResult = nil
		created = newID
		return s.save(ctx, session)
	})
	if err != nil {
		return nil, "", err
	}
	return session, created, nil
}

func (s *sessionService) Generate(ctx context.Context, id string) (*models.EditingSession, error) {
	return s.exclusive(ctx, id, func(session *models.EditingSession) error {
		session.ClearGenerated()
		if err := s.save(ctx, session); err != nil {
			return err
		}

		code, err := s.generator.GenerateCode(ctx, session.Snapshot)
		if err != nil {
			return err
		}

		session.GeneratedCode = code
		s.logger.Info("Generated code for session",
			zap.String("session_id", session.ID),
			zap.Int("code_len", len(code)))
		return s.save(ctx, session)
	})
}

func (s *sessionService) Test(ctx context.Context, id string) (*models.EditingSession, error) {
	return s.exclusive(ctx, id, func(session *models.EditingSession) error {
		result, err := s.tester.TestGeneratedCode(ctx, session.GeneratedCode, session.Snapshot)
		if err != nil {
			return err
		}

		session.TestResult = result
		s.logger.Info("Tested generated code",
			zap.String("session_id", session.ID),
			zap.Bool("success", result.Success))
		return s.save(ctx, session)
	})
}

func (s *sessionService) Save(ctx context.Context, id string, req *SaveSessionRequest) (*models.EditingSession, error) {
	return s.exclusive(ctx, id, func(session *models.EditingSession) error {
		name := session.Name
		if req != nil && req.Name != nil {
			name = *req.Name
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return ErrMissingName
		}
		description := session.Description
		if req != nil && req.Description != nil {
			description = *req.Description
		}

		saved, err := s.persist(ctx, session, name, description)
		if err != nil {
			return err
		}

		session.TransformationID = &saved.ID
		session.Name = saved.Name
		session.Description = saved.Description
		return s.save(ctx, session)
	})
}

// persist updates the session's transformation, or creates one when the
// session has never been saved or its transformation was deleted.
func (s *sessionService) persist(ctx context.Context, session *models.EditingSession, name, description string) (*models.Transformation, error) {
	snapshot := session.Snapshot.Clone()

	if session.TransformationID != nil {
		saved, err := s.transformations.Update(ctx, *session.TransformationID, &UpdateTransformationRequest{
			Name:        &name,
			Description: &description,
			InputTables: &snapshot.InputTables,
			InputParams: &snapshot.InputParams,
			OutputTable: &snapshot.OutputTable,
		})
		if !errors.Is(err, apperrors.ErrNotFound) {
			return saved, err
		}
		s.logger.Warn("Saved transformation is gone, creating a new one",
			zap.String("session_id", session.ID),
			zap.String("transformation_id", session.TransformationID.String()))
	}

	return s.transformations.Create(ctx, &CreateTransformationRequest{
		Name:        name,
		Description: description,
		InputTables: snapshot.InputTables,
		InputParams: snapshot.InputParams,
		OutputTable: &snapshot.OutputTable,
	})
}

func (s *sessionService) Load(ctx context.Context, id string, transformationID uuid.UUID) (*models.EditingSession, error) {
	return s.exclusive(ctx, id, func(session *models.EditingSession) error {
		t, err := s.transformations.Get(ctx, transformationID)
		if err != nil {
			return err
		}

		tid := t.ID
		session.TransformationID = &tid
		session.Name = t.Name
		session.Description = t.Description
		session.Snapshot = t.Snapshot().Clone()
		session.ClearGenerated()

		s.logger.Info("Loaded transformation into session",
			zap.String("session_id", session.ID),
			zap.String("transformation_id", tid.String()))
		return s.save(ctx, session)
	})
}

func (s *sessionService) Discard(ctx context.Context, id string) error {
	_, err := s.exclusive(ctx, id, func(session *models.EditingSession) error {
		return s.store.Delete(ctx, session.ID)
	})
	return err
}

// sessionLocks marks sessions with an operation in flight.
type sessionLocks struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{busy: make(map[string]struct{})}
}

func (l *sessionLocks) acquire(id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.busy[id]; ok {
		return nil, apperrors.ErrSessionBusy
	}
	l.busy[id] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.busy, id)
		l.mu.Unlock()
	}, nil
}
