/**
 * @description
 * PostgreSQL implementation of the WorkflowRepository and ContactRepository
 * interfaces: workflow definitions and steps, per-subject executions,
 * marketing contacts, and the scheduled social post handoff table.
 *
 * @notes
 * - The "at most one non-terminal execution per (workflow, email)" invariant
 *   is enforced by a partial unique index on workflow_executions
 *   (workflow_id, lower(email)) WHERE status IN ('PENDING','RUNNING','WAITING').
 *   CreateExecution translates the resulting 23505 into ErrExecutionExists,
 *   so the query-then-insert path stays race-safe under concurrent triggers.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/verdantnursery/marketing-service/internal/domain"
)

// ListActiveWorkflowsByTrigger returns every ACTIVE workflow matching the
// trigger, with steps loaded in order.
func (r *PostgresRepository) ListActiveWorkflowsByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Workflow, error) {
	query := `
		SELECT id, name, trigger, status, conditions, created_at, updated_at
		FROM workflows
		WHERE status = 'ACTIVE' AND trigger = $1
	`
	rows, err := r.db.Query(ctx, query, trigger)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range workflows {
		steps, err := r.findSteps(ctx, workflows[i].ID)
		if err != nil {
			return nil, err
		}
		workflows[i].Steps = steps
	}
	return workflows, nil
}

// FindWorkflowWithSteps loads one workflow and its ordered steps.
func (r *PostgresRepository) FindWorkflowWithSteps(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, trigger, status, conditions, created_at, updated_at
		FROM workflows WHERE id = $1
	`, id)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	steps, err := r.findSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*domain.Workflow, error) {
	var wf domain.Workflow
	var conditions []byte
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Trigger, &wf.Status, &conditions,
		&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &wf.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode workflow conditions: %w", err)
		}
	}
	return &wf, nil
}

func (r *PostgresRepository) findSteps(ctx context.Context, workflowID uuid.UUID) ([]domain.Step, error) {
	query := `
		SELECT id, workflow_id, order_index, type, delay_minutes, config
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY order_index
	`
	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		var s domain.Step
		var raw []byte
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.OrderIndex, &s.Type, &s.DelayMinutes, &raw); err != nil {
			return nil, err
		}
		cfg, err := domain.DecodeStepConfig(s.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", s.ID, err)
		}
		s.Config = cfg
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// CreateWorkflow inserts a workflow and its steps atomically.
func (r *PostgresRepository) CreateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	conditions, err := json.Marshal(wf.Conditions)
	if err != nil {
		return err
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO workflows (id, name, trigger, status, conditions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, wf.ID, wf.Name, wf.Trigger, wf.Status, conditions).Scan(&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return err
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		cfg, err := json.Marshal(step.Config)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO workflow_steps (id, workflow_id, order_index, type, delay_minutes, config)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, step.ID, step.WorkflowID, step.OrderIndex, step.Type, step.DelayMinutes, cfg); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const executionColumns = `id, workflow_id, email, customer_id, status, current_step,
	data, resume_at, error, completed_at, created_at, updated_at`

// CreateExecution inserts a new execution; a concurrent non-terminal
// execution for the same (workflow, email) surfaces as ErrExecutionExists.
func (r *PostgresRepository) CreateExecution(ctx context.Context, exec *domain.Execution) error {
	data, err := json.Marshal(exec.Data)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO workflow_executions (id, workflow_id, email, customer_id, status, current_step, data)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query, exec.ID, exec.WorkflowID, exec.Email,
		exec.CustomerID, exec.Status, exec.CurrentStep, data).Scan(&exec.CreatedAt, &exec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExecutionExists
		}
		return err
	}
	return nil
}

// FindExecutionByID loads an execution with its data bag.
func (r *PostgresRepository) FindExecutionByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	row := r.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var e domain.Execution
	var data []byte
	if err := row.Scan(&e.ID, &e.WorkflowID, &e.Email, &e.CustomerID, &e.Status,
		&e.CurrentStep, &data, &e.ResumeAt, &e.Error, &e.CompletedAt,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("failed to decode execution data: %w", err)
		}
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return &e, nil
}

// HasOpenExecution reports whether a non-terminal execution exists for the
// (workflow, email) pair.
func (r *PostgresRepository) HasOpenExecution(ctx context.Context, workflowID uuid.UUID, email string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM workflow_executions
			WHERE workflow_id = $1 AND email = lower($2)
			  AND status IN ('PENDING', 'RUNNING', 'WAITING')
		)
	`
	err := r.db.QueryRow(ctx, query, workflowID, email).Scan(&exists)
	return exists, err
}

// MarkExecutionRunning flips an execution to RUNNING.
func (r *PostgresRepository) MarkExecutionRunning(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE workflow_executions SET status = 'RUNNING', updated_at = NOW() WHERE id = $1`, id)
	return err
}

// SaveExecutionProgress persists the advanced resume pointer and data bag
// after a successful step, clearing any served resume time.
func (r *PostgresRepository) SaveExecutionProgress(ctx context.Context, id uuid.UUID, currentStep int, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		UPDATE workflow_executions
		SET current_step = $1, data = $2, resume_at = NULL, updated_at = NOW()
		WHERE id = $3
	`, currentStep, payload, id)
	return err
}

// MarkExecutionWaiting parks the execution until resumeAt.
func (r *PostgresRepository) MarkExecutionWaiting(ctx context.Context, id uuid.UUID, resumeAt time.Time, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'WAITING', resume_at = $1, data = $2, updated_at = NOW()
		WHERE id = $3
	`, resumeAt, payload, id)
	return err
}

// MarkExecutionCompleted finalizes a successful execution.
func (r *PostgresRepository) MarkExecutionCompleted(ctx context.Context, id uuid.UUID, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'COMPLETED', data = $1, resume_at = NULL,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`, payload, id)
	return err
}

// MarkExecutionFailed records the step error and terminates the execution.
func (r *PostgresRepository) MarkExecutionFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'FAILED', error = $1, resume_at = NULL, updated_at = NOW()
		WHERE id = $2
	`, errMsg, id)
	return err
}

// FindDueExecutions returns WAITING executions whose resume time has passed.
func (r *PostgresRepository) FindDueExecutions(ctx context.Context, now time.Time, limit int) ([]domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE status = 'WAITING' AND resume_at <= $1
		ORDER BY resume_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

// ClaimDueExecution conditionally takes ownership of a due execution. Only
// the caller whose UPDATE matched the WAITING row wins; everyone else sees
// false and moves on.
func (r *PostgresRepository) ClaimDueExecution(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'PENDING', updated_at = NOW()
		WHERE id = $1 AND status = 'WAITING' AND resume_at <= $2
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateScheduledPost writes a social post row for the external publisher.
func (r *PostgresRepository) CreateScheduledPost(ctx context.Context, post *domain.ScheduledPost) error {
	query := `
		INSERT INTO scheduled_posts (id, platform, content, media_url, hashtags, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query, post.ID, post.Platform, post.Content, post.MediaURL,
		post.Hashtags, post.ScheduledAt, post.Status).Scan(&post.CreatedAt)
}

// FindContactByEmail retrieves a marketing contact.
func (r *PostgresRepository) FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	var c domain.Contact
	var attrs []byte
	query := `
		SELECT id, email, name, tags, attributes, purchase_count, last_purchase_at, created_at, updated_at
		FROM contacts WHERE lower(email) = lower($1)
	`
	err := r.db.QueryRow(ctx, query, email).Scan(&c.ID, &c.Email, &c.Name, &c.Tags, &attrs,
		&c.PurchaseCount, &c.LastPurchaseAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode contact attributes: %w", err)
		}
	}
	return &c, nil
}

// UpsertContact inserts a contact or refreshes its mutable fields.
func (r *PostgresRepository) UpsertContact(ctx context.Context, contact *domain.Contact) error {
	attrs, err := json.Marshal(contact.Attributes)
	if err != nil {
		return err
	}
	if contact.Tags == nil {
		contact.Tags = []string{}
	}
	query := `
		INSERT INTO contacts (id, email, name, tags, attributes, purchase_count, last_purchase_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE
		SET name = COALESCE(EXCLUDED.name, contacts.name),
		    purchase_count = GREATEST(contacts.purchase_count, EXCLUDED.purchase_count),
		    last_purchase_at = COALESCE(EXCLUDED.last_purchase_at, contacts.last_purchase_at),
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query, contact.ID, contact.Email, contact.Name, contact.Tags,
		attrs, contact.PurchaseCount, contact.LastPurchaseAt).
		Scan(&contact.ID, &contact.CreatedAt, &contact.UpdatedAt)
}

// UpdateContactFields applies a partial update: "name" maps onto the name
// column, everything else is merged into the attributes document.
func (r *PostgresRepository) UpdateContactFields(ctx context.Context, email string, updates map[string]any) error {
	attrs := make(map[string]any, len(updates))
	var name *string
	for k, v := range updates {
		if k == "name" {
			if s, ok := v.(string); ok {
				name = &s
				continue
			}
		}
		attrs[k] = v
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE contacts
		SET name = COALESCE($1, name),
		    attributes = attributes || $2::jsonb,
		    updated_at = NOW()
		WHERE lower(email) = lower($3)
	`, name, payload, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContactNotFound
	}
	return nil
}

// AddContactTag adds the tag to the contact's set, creating the contact if
// it does not exist yet. Adding an existing tag is a no-op.
func (r *PostgresRepository) AddContactTag(ctx context.Context, email string, tag string) error {
	query := `
		INSERT INTO contacts (id, email, tags, attributes, purchase_count)
		VALUES (gen_random_uuid(), lower($1), ARRAY[$2]::text[], '{}'::jsonb, 0)
		ON CONFLICT (email) DO UPDATE
		SET tags = CASE
			WHEN $2 = ANY(contacts.tags) THEN contacts.tags
			ELSE array_append(contacts.tags, $2)
		END,
		updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, email, tag)
	return err
}

// FindContactsByAudience resolves a campaign's target contacts. All set
// filters are AND-combined; the limit caps fan-out.
func (r *PostgresRepository) FindContactsByAudience(ctx context.Context, filter domain.AudienceFilter, limit int) ([]domain.Contact, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, email, name, tags, attributes, purchase_count, last_purchase_at, created_at, updated_at
		FROM contacts
		WHERE 1=1
	`)
	args := []any{}
	if len(filter.Tags) > 0 {
		args = append(args, filter.Tags)
		fmt.Fprintf(&sb, " AND tags && $%d", len(args))
	}
	if filter.MinPurchaseCount > 0 {
		args = append(args, filter.MinPurchaseCount)
		fmt.Fprintf(&sb, " AND purchase_count >= $%d", len(args))
	}
	if filter.DaysSinceLastPurchase > 0 {
		args = append(args, filter.DaysSinceLastPurchase)
		fmt.Fprintf(&sb, " AND last_purchase_at <= NOW() - ($%d || ' days')::interval", len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY created_at LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		var c domain.Contact
		var attrs []byte
		if err := rows.Scan(&c.ID, &c.Email, &c.Name, &c.Tags, &attrs, &c.PurchaseCount,
			&c.LastPurchaseAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
				return nil, fmt.Errorf("failed to decode contact attributes: %w", err)
			}
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
