/**
 * @description
 * This file contains the workflow execution engine. Trigger events fan out
 * into executions, which advance step-by-step through their workflow's
 * ordered steps. Delays are persisted state, not in-memory timers: a
 * delayed execution parks in WAITING with a resume timestamp, and the
 * resume sweep claims it once the timestamp passes. The process can
 * restart at any point without losing a pending delay.
 *
 * Trigger handling never blocks on workflow completion: created executions
 * are handed off through the ExecutionQueue and processed by a worker.
 *
 * @dependencies
 * - internal/config, internal/domain, internal/store.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/verdantnursery/marketing-service/internal/config"
	"github.com/verdantnursery/marketing-service/internal/domain"
	"github.com/verdantnursery/marketing-service/internal/store"
)

// ExecutionQueue is the handoff between trigger handling and execution
// processing. The production implementation publishes to RabbitMQ; tests
// use a synchronous in-memory queue.
type ExecutionQueue interface {
	Enqueue(ctx context.Context, executionID uuid.UUID) error
}

// ExecutionCreatedPayload is the message body carried on the queue.
type ExecutionCreatedPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

// WorkflowEngine advances workflow executions.
type WorkflowEngine struct {
	wfRepo     store.WorkflowRepository
	contacts   store.ContactRepository
	notifier   Notifier
	queue      ExecutionQueue
	evaluator  *ConditionEvaluator
	httpClient *http.Client
	cfg        config.Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewWorkflowEngine creates a new workflow engine instance.
func NewWorkflowEngine(wfRepo store.WorkflowRepository, contacts store.ContactRepository, notifier Notifier, queue ExecutionQueue, cfg config.Config, logger *slog.Logger) *WorkflowEngine {
	return &WorkflowEngine{
		wfRepo:     wfRepo,
		contacts:   contacts,
		notifier:   notifier,
		queue:      queue,
		evaluator:  NewConditionEvaluator(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleTrigger finds the ACTIVE workflows matching the event, applies
// their gating conditions, and creates one execution per surviving
// workflow. Duplicate triggers for a subject with an execution already in
// flight are dropped, not queued. Returns the created execution ids; the
// executions themselves are processed asynchronously by the worker.
func (e *WorkflowEngine) HandleTrigger(ctx context.Context, event domain.TriggerEvent) ([]uuid.UUID, error) {
	if event.Email == "" {
		return nil, fmt.Errorf("trigger event requires an email")
	}

	workflows, err := e.wfRepo.ListActiveWorkflowsByTrigger(ctx, event.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows for trigger %s: %w", event.Type, err)
	}

	var created []uuid.UUID
	for i := range workflows {
		wf := &workflows[i]
		if !e.conditionsMet(wf.Conditions, event) {
			continue
		}

		open, err := e.wfRepo.HasOpenExecution(ctx, wf.ID, event.Email)
		if err != nil {
			e.logger.Error("open-execution check failed", "workflow_id", wf.ID, "error", err)
			continue
		}
		if open {
			continue
		}

		data := map[string]any{"email": strings.ToLower(event.Email)}
		for k, v := range event.Data {
			data[k] = v
		}
		exec := &domain.Execution{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			Email:      strings.ToLower(event.Email),
			CustomerID: event.CustomerID,
			Status:     domain.ExecutionPending,
			Data:       data,
		}
		if err := e.wfRepo.CreateExecution(ctx, exec); err != nil {
			if errors.Is(err, store.ErrExecutionExists) {
				// Lost the race to a concurrent trigger; the invariant held.
				continue
			}
			e.logger.Error("execution create failed", "workflow_id", wf.ID, "error", err)
			continue
		}

		if err := e.queue.Enqueue(ctx, exec.ID); err != nil {
			e.logger.Error("execution enqueue failed", "execution_id", exec.ID, "error", err)
		}
		created = append(created, exec.ID)
	}
	return created, nil
}

// conditionsMet applies a workflow's static gating conditions to the event.
// Workflows failing a condition are skipped silently.
func (e *WorkflowEngine) conditionsMet(cond domain.WorkflowConditions, event domain.TriggerEvent) bool {
	now := e.now()

	if cond.ActiveHourStart != nil && cond.ActiveHourEnd != nil {
		hour := now.Hour()
		start, end := *cond.ActiveHourStart, *cond.ActiveHourEnd
		inWindow := false
		if start <= end {
			inWindow = hour >= start && hour < end
		} else {
			// Window wraps midnight.
			inWindow = hour >= start || hour < end
		}
		if !inWindow {
			return false
		}
	}

	if len(cond.ActiveDays) > 0 {
		day := now.Weekday()
		found := false
		for _, d := range cond.ActiveDays {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if cond.MinCartCents > 0 && event.Type == domain.TriggerAbandonedCart {
		cart, ok := toFloat(event.Data["cart_total_cents"])
		if !ok || int64(cart) < cond.MinCartCents {
			return false
		}
	}
	return true
}

// ProcessExecution advances an execution from its resume pointer. A step
// with a positive delay whose wait has not been served parks the execution
// in WAITING and returns; progress is persisted after every step so a
// resumed execution never re-executes completed work. Step failures fail
// the execution and are recorded on it; they never propagate to the caller.
func (e *WorkflowEngine) ProcessExecution(ctx context.Context, executionID uuid.UUID) error {
	exec, err := e.wfRepo.FindExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return nil
	}

	wf, err := e.wfRepo.FindWorkflowWithSteps(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}

	if err := e.wfRepo.MarkExecutionRunning(ctx, executionID); err != nil {
		return err
	}
	exec.Status = domain.ExecutionRunning

	for i := exec.CurrentStep; i < len(wf.Steps); i++ {
		step := wf.Steps[i]

		if step.DelayMinutes > 0 {
			if exec.ResumeAt == nil {
				resumeAt := e.now().Add(time.Duration(step.DelayMinutes) * time.Minute)
				if err := e.wfRepo.MarkExecutionWaiting(ctx, executionID, resumeAt, exec.Data); err != nil {
					return err
				}
				e.logger.Info("execution waiting", "execution_id", executionID,
					"step", i, "resume_at", resumeAt)
				return nil
			}
			if e.now().Before(*exec.ResumeAt) {
				// Woken too early; park again until the recorded resume time.
				if err := e.wfRepo.MarkExecutionWaiting(ctx, executionID, *exec.ResumeAt, exec.Data); err != nil {
					return err
				}
				return nil
			}
			// The wait has been served; execute the step now.
		}

		out, err := e.executeStep(ctx, exec, step)
		if err != nil {
			e.logger.Warn("execution failed", "execution_id", executionID,
				"step", i, "type", step.Type, "error", err)
			return e.wfRepo.MarkExecutionFailed(ctx, executionID, err.Error())
		}

		for k, v := range out {
			exec.Data[k] = v
		}
		exec.CurrentStep = i + 1
		exec.ResumeAt = nil
		if err := e.wfRepo.SaveExecutionProgress(ctx, executionID, exec.CurrentStep, exec.Data); err != nil {
			return err
		}
	}

	if err := e.wfRepo.MarkExecutionCompleted(ctx, executionID, exec.Data); err != nil {
		return err
	}
	e.logger.Info("execution completed", "execution_id", executionID, "workflow_id", wf.ID)
	return nil
}

// ResumeWaitingExecutions is the periodic sweep over due WAITING
// executions. Each one is claimed with a conditional update before being
// re-enqueued, so concurrent sweepers never hand off the same execution
// twice. Returns how many executions this sweeper claimed.
func (e *WorkflowEngine) ResumeWaitingExecutions(ctx context.Context) (int, error) {
	due, err := e.wfRepo.FindDueExecutions(ctx, e.now(), e.cfg.ResumeSweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find due executions: %w", err)
	}

	claimed := 0
	for _, exec := range due {
		won, err := e.wfRepo.ClaimDueExecution(ctx, exec.ID, e.now())
		if err != nil {
			e.logger.Error("execution claim failed", "execution_id", exec.ID, "error", err)
			continue
		}
		if !won {
			continue
		}
		if err := e.queue.Enqueue(ctx, exec.ID); err != nil {
			e.logger.Error("resume enqueue failed", "execution_id", exec.ID, "error", err)
			continue
		}
		claimed++
	}
	return claimed, nil
}
