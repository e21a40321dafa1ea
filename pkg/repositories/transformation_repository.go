package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/database"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
)

// TransformationRepository defines the interface for transformation data access.
// Every method runs on the owner-scoped connection in ctx, so rows belonging to
// other users are invisible.
type TransformationRepository interface {
	Create(ctx context.Context, t *models.Transformation) error
	Update(ctx context.Context, t *models.Transformation) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transformation, error)
	// ListByUser returns the owner's transformations, most recently updated first.
	ListByUser(ctx context.Context) ([]*models.Transformation, error)
}

type transformationRepository struct{}

// NewTransformationRepository creates a new transformation repository.
func NewTransformationRepository() TransformationRepository {
	return &transformationRepository{}
}

var _ TransformationRepository = (*transformationRepository)(nil)

const transformationColumns = `id, user_id, name, description, input_tables, input_params, output_table, created_at, updated_at`

func ownerScope(ctx context.Context) (*database.OwnerScope, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}
	return scope, nil
}

// documentColumns marshals the jsonb columns of t.
func documentColumns(t *models.Transformation) (tables, params, output []byte, err error) {
	if tables, err = json.Marshal(t.InputTables); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal input tables: %w", err)
	}
	if params, err = json.Marshal(t.InputParams); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal input params: %w", err)
	}
	if output, err = json.Marshal(t.OutputTable); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal output table: %w", err)
	}
	return tables, params, output, nil
}

func (r *transformationRepository) Create(ctx context.Context, t *models.Transformation) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.UserID = scope.UserID
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	tables, params, output, err := documentColumns(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transformations (` + transformationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = scope.Conn.Exec(ctx, query,
		t.ID,
		t.UserID,
		t.Name,
		t.Description,
		tables,
		params,
		output,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transformation: %w", err)
	}
	return nil
}

// Update overwrites every editable field and refreshes updated_at.
func (r *transformationRepository) Update(ctx context.Context, t *models.Transformation) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	t.UpdatedAt = time.Now().UTC()
	tables, params, output, err := documentColumns(t)
	if err != nil {
		return err
	}

	query := `
		UPDATE transformations
		SET name = $2, description = $3, input_tables = $4, input_params = $5,
		    output_table = $6, updated_at = $7
		WHERE id = $1
		RETURNING user_id, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		t.ID,
		t.Name,
		t.Description,
		tables,
		params,
		output,
		t.UpdatedAt,
	).Scan(&t.UserID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update transformation: %w", err)
	}
	return nil
}

func (r *transformationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM transformations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transformation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *transformationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transformation, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + transformationColumns + ` FROM transformations WHERE id = $1`

	t, err := scanTransformation(scope.Conn.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transformation: %w", err)
	}
	return t, nil
}

func (r *transformationRepository) ListByUser(ctx context.Context) ([]*models.Transformation, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	// RLS already restricts rows; the explicit filter keeps the index usable.
	query := `
		SELECT ` + transformationColumns + `
		FROM transformations
		WHERE user_id = $1
		ORDER BY updated_at DESC`

	rows, err := scope.Conn.Query(ctx, query, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transformations: %w", err)
	}
	defer rows.Close()

	out := []*models.Transformation{}
	for rows.Next() {
		t, err := scanTransformation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transformation: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transformations: %w", err)
	}
	return out, nil
}

func scanTransformation(row pgx.Row) (*models.Transformation, error) {
	var (
		t                      models.Transformation
		tables, params, output []byte
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Name,
		&t.Description,
		&tables,
		&params,
		&output,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tables, &t.InputTables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input tables: %w", err)
	}
	if err := json.Unmarshal(params, &t.InputParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input params: %w", err)
	}
	if err := json.Unmarshal(output, &t.OutputTable); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output table: %w", err)
	}
	return &t, nil
}
