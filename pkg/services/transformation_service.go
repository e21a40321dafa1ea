package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/auth"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/repositories"
)

// CreateTransformationRequest carries a new transformation document. A nil
// slice or pointer means the field was absent from the request.
type CreateTransformationRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	InputTables []models.InputTable `json:"input_tables"`
	InputParams []models.InputParam `json:"input_params"`
	OutputTable *models.OutputTable `json:"output_table"`
}

// UpdateTransformationRequest carries a partial update. Only non-nil fields change.
type UpdateTransformationRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	InputTables *[]models.InputTable `json:"input_tables,omitempty"`
	InputParams *[]models.InputParam `json:"input_params,omitempty"`
	OutputTable *models.OutputTable  `json:"output_table,omitempty"`
}

// TransformationService manages saved transformations of the authenticated user.
type TransformationService interface {
	// Create validates and stores a new transformation owned by the caller.
	Create(ctx context.Context, req *CreateTransformationRequest) (*models.Transformation, error)

	// Update applies a partial update and refreshes updated_at.
	Update(ctx context.Context, id uuid.UUID, req *UpdateTransformationRequest) (*models.Transformation, error)

	// Get returns one transformation or apperrors.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.Transformation, error)

	// List returns the caller's transformations, most recently updated first.
	List(ctx context.Context) ([]*models.Transformation, error)

	// Delete removes a transformation.
	Delete(ctx context.Context, id uuid.UUID) error
}

type transformationService struct {
	repo   repositories.TransformationRepository
	logger *zap.Logger
}

// NewTransformationService creates a new transformation service.
func NewTransformationService(repo repositories.TransformationRepository, logger *zap.Logger) TransformationService {
	return &transformationService{
		repo:   repo,
		logger: logger.Named("transformations"),
	}
}

var _ TransformationService = (*transformationService)(nil)

func (s *transformationService) Create(ctx context.Context, req *CreateTransformationRequest) (*models.Transformation, error) {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || req.InputTables == nil || req.InputParams == nil || req.OutputTable == nil {
		return nil, apperrors.Validation("Missing required fields: name, input_tables, input_params, output_table")
	}

	t := &models.Transformation{
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		InputTables: req.InputTables,
		InputParams: req.InputParams,
		OutputTable: *req.OutputTable,
	}
	if err := validateDocument(t); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create transformation: %w", err)
	}

	s.logger.Info("Created transformation",
		zap.String("transformation_id", t.ID.String()),
		zap.String("user_id", userID))
	return t, nil
}

func (s *transformationService) Update(ctx context.Context, id uuid.UUID, req *UpdateTransformationRequest) (*models.Transformation, error) {
	if _, err := auth.RequireUserIDFromContext(ctx); err != nil {
		return nil, err
	}

	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.Validation("name must not be empty")
		}
		t.Name = name
	}
	if req.Description != nil {
		t.Description = strings.TrimSpace(*req.Description)
	}
	if req.InputTables != nil {
		t.InputTables = *req.InputTables
	}
	if req.InputParams != nil {
		t.InputParams = *req.InputParams
	}
	if req.OutputTable != nil {
		t.OutputTable = *req.OutputTable
	}
	if err := validateDocument(t); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update transformation: %w", err)
	}

	s.logger.Info("Updated transformation", zap.String("transformation_id", id.String()))
	return t, nil
}

func (s *transformationService) Get(ctx context.Context, id uuid.UUID) (*models.Transformation, error) {
	if _, err := auth.RequireUserIDFromContext(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *transformationService) List(ctx context.Context) ([]*models.Transformation, error) {
	if _, err := auth.RequireUserIDFromContext(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListByUser(ctx)
}

func (s *transformationService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := auth.RequireUserIDFromContext(ctx); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted transformation", zap.String("transformation_id", id.String()))
	return nil
}

// validateDocument checks the structural rules of the stored snapshot.
func validateDocument(t *models.Transformation) error {
	if t.InputTables == nil {
		t.InputTables = []models.InputTable{}
	}
	if t.InputParams == nil {
		t.InputParams = []models.InputParam{}
	}
	snapshot := t.Snapshot()
	if err := snapshot.Validate(); err != nil {
		return apperrors.Validation("%v", err)
	}
	return nil
}
