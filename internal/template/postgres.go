package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists templates in the prompt_templates table.
// Postgres serializes the writes; selection runs as a single query.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const templateColumns = `id, name, template_text, variables, model_id, language, task_type, priority, created_at, updated_at`

func (r *PostgresRepository) List(ctx context.Context) ([]Template, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+templateColumns+` FROM prompt_templates ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+templateColumns+` FROM prompt_templates WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanTemplate(rows)
}

func (r *PostgresRepository) Create(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	vars, _ := json.Marshal(t.Variables)
	_, err := r.db.Exec(ctx,
		`INSERT INTO prompt_templates (id, name, template_text, variables, model_id, language, task_type, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Name, t.Text, vars, t.ModelID, t.Language, t.TaskType, t.Priority, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, id uuid.UUID, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.ID = id
	t.UpdatedAt = time.Now().UTC()

	vars, _ := json.Marshal(t.Variables)
	tag, err := r.db.Exec(ctx,
		`UPDATE prompt_templates
		 SET name = $2, template_text = $3, variables = $4, model_id = $5,
		     language = $6, task_type = $7, priority = $8, updated_at = $9
		 WHERE id = $1`,
		id, t.Name, t.Text, vars, t.ModelID, t.Language, t.TaskType, t.Priority, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM prompt_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Select(ctx context.Context, model, language, taskType string) (*Template, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+templateColumns+`
		 FROM prompt_templates
		 WHERE (model_id = '*' OR model_id = $1)
		   AND (language = '' OR language = $2)
		   AND (task_type = '' OR task_type = $3)
		 ORDER BY priority DESC, updated_at DESC
		 LIMIT 1`,
		model, language, taskType,
	)
	if err != nil {
		return nil, fmt.Errorf("select template: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	return scanTemplate(rows)
}

func scanTemplate(rows pgx.Rows) (*Template, error) {
	var (
		t    Template
		vars []byte
	)
	if err := rows.Scan(&t.ID, &t.Name, &t.Text, &vars, &t.ModelID, &t.Language, &t.TaskType, &t.Priority, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &t.Variables); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
	}
	return &t, nil
}
