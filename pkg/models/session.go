package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTransformationName is the name of a transformation nobody has named yet.
const DefaultTransformationName = "Untitled Transformation"

// EditingSession is one user's in-progress edit of a transformation: the
// working snapshot plus the last generated code and its test result.
type EditingSession struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// TransformationID is set once the session has been saved or loaded.
	TransformationID *uuid.UUID `json:"transformation_id,omitempty"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Snapshot         Snapshot   `json:"snapshot"`

	GeneratedCode string      `json:"generated_code"`
	TestResult    *TestResult `json:"test_result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEditingSession creates an empty session owned by userID.
func NewEditingSession(userID string, now time.Time) *EditingSession {
	return &EditingSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      DefaultTransformationName,
		Snapshot:  NewSnapshot(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ClearGenerated drops generated code and its test result.
func (s *EditingSession) ClearGenerated() {
	s.GeneratedCode = ""
	s.TestResult = nil
}
