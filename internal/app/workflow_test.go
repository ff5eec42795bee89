package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/verdantnursery/marketing-service/internal/config"
	"github.com/verdantnursery/marketing-service/internal/domain"
	"github.com/verdantnursery/marketing-service/internal/store"
)

// memWorkflowRepo is an in-memory store.WorkflowRepository and
// store.ContactRepository with the Postgres implementation's semantics:
// CreateExecution enforces the one-open-execution invariant and
// ClaimDueExecution is a conditional state flip.
type memWorkflowRepo struct {
	workflows  map[uuid.UUID]*domain.Workflow
	executions map[uuid.UUID]*domain.Execution
	contacts   map[string]*domain.Contact
	posts      []domain.ScheduledPost
}

func newMemWorkflowRepo() *memWorkflowRepo {
	return &memWorkflowRepo{
		workflows:  make(map[uuid.UUID]*domain.Workflow),
		executions: make(map[uuid.UUID]*domain.Execution),
		contacts:   make(map[string]*domain.Contact),
	}
}

func (m *memWorkflowRepo) ListActiveWorkflowsByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Workflow, error) {
	var out []domain.Workflow
	for _, wf := range m.workflows {
		if wf.Status == domain.WorkflowActive && wf.Trigger == trigger {
			out = append(out, *wf)
		}
	}
	return out, nil
}

func (m *memWorkflowRepo) FindWorkflowWithSteps(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	wf, ok := m.workflows[id]
	if !ok {
		return nil, store.ErrWorkflowNotFound
	}
	copied := *wf
	return &copied, nil
}

func (m *memWorkflowRepo) CreateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	copied := *wf
	m.workflows[wf.ID] = &copied
	return nil
}

func (m *memWorkflowRepo) CreateExecution(ctx context.Context, exec *domain.Execution) error {
	for _, e := range m.executions {
		if e.WorkflowID == exec.WorkflowID && strings.EqualFold(e.Email, exec.Email) && !e.Status.IsTerminal() {
			return store.ErrExecutionExists
		}
	}
	copied := *exec
	copied.Data = cloneData(exec.Data)
	m.executions[exec.ID] = &copied
	return nil
}

func (m *memWorkflowRepo) FindExecutionByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	e, ok := m.executions[id]
	if !ok {
		return nil, store.ErrExecutionNotFound
	}
	copied := *e
	copied.Data = cloneData(e.Data)
	return &copied, nil
}

func (m *memWorkflowRepo) HasOpenExecution(ctx context.Context, workflowID uuid.UUID, email string) (bool, error) {
	for _, e := range m.executions {
		if e.WorkflowID == workflowID && strings.EqualFold(e.Email, email) && !e.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memWorkflowRepo) MarkExecutionRunning(ctx context.Context, id uuid.UUID) error {
	e, ok := m.executions[id]
	if !ok {
		return store.ErrExecutionNotFound
	}
	e.Status = domain.ExecutionRunning
	return nil
}

func (m *memWorkflowRepo) SaveExecutionProgress(ctx context.Context, id uuid.UUID, currentStep int, data map[string]any) error {
	e, ok := m.executions[id]
	if !ok {
		return store.ErrExecutionNotFound
	}
	e.CurrentStep = currentStep
	e.Data = cloneData(data)
	e.ResumeAt = nil
	return nil
}

func (m *memWorkflowRepo) MarkExecutionWaiting(ctx context.Context, id uuid.UUID, resumeAt time.Time, data map[string]any) error {
	e, ok := m.executions[id]
	if !ok {
		return store.ErrExecutionNotFound
	}
	e.Status = domain.ExecutionWaiting
	e.ResumeAt = &resumeAt
	e.Data = cloneData(data)
	return nil
}

func (m *memWorkflowRepo) MarkExecutionCompleted(ctx context.Context, id uuid.UUID, data map[string]any) error {
	e, ok := m.executions[id]
	if !ok {
		return store.ErrExecutionNotFound
	}
	now := time.Now()
	e.Status = domain.ExecutionCompleted
	e.Data = cloneData(data)
	e.ResumeAt = nil
	e.CompletedAt = &now
	return nil
}

func (m *memWorkflowRepo) MarkExecutionFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	e, ok := m.executions[id]
	if !ok {
		return store.ErrExecutionNotFound
	}
	e.Status = domain.ExecutionFailed
	e.Error = &errMsg
	e.ResumeAt = nil
	return nil
}

func (m *memWorkflowRepo) FindDueExecutions(ctx context.Context, now time.Time, limit int) ([]domain.Execution, error) {
	var out []domain.Execution
	for _, e := range m.executions {
		if e.Status == domain.ExecutionWaiting && e.ResumeAt != nil && !e.ResumeAt.After(now) {
			out = append(out, *e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memWorkflowRepo) ClaimDueExecution(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	e, ok := m.executions[id]
	if !ok {
		return false, nil
	}
	if e.Status != domain.ExecutionWaiting || e.ResumeAt == nil || e.ResumeAt.After(now) {
		return false, nil
	}
	e.Status = domain.ExecutionPending
	return true, nil
}

func (m *memWorkflowRepo) CreateScheduledPost(ctx context.Context, post *domain.ScheduledPost) error {
	m.posts = append(m.posts, *post)
	return nil
}

func (m *memWorkflowRepo) FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	c, ok := m.contacts[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrContactNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *memWorkflowRepo) UpsertContact(ctx context.Context, contact *domain.Contact) error {
	copied := *contact
	if copied.ID == uuid.Nil {
		copied.ID = uuid.New()
	}
	m.contacts[strings.ToLower(contact.Email)] = &copied
	return nil
}

func (m *memWorkflowRepo) UpdateContactFields(ctx context.Context, email string, updates map[string]any) error {
	c, ok := m.contacts[strings.ToLower(email)]
	if !ok {
		return store.ErrContactNotFound
	}
	if c.Attributes == nil {
		c.Attributes = make(map[string]any)
	}
	for k, v := range updates {
		if k == "name" {
			if s, sok := v.(string); sok {
				c.Name = &s
				continue
			}
		}
		c.Attributes[k] = v
	}
	return nil
}

func (m *memWorkflowRepo) AddContactTag(ctx context.Context, email string, tag string) error {
	key := strings.ToLower(email)
	c, ok := m.contacts[key]
	if !ok {
		c = &domain.Contact{ID: uuid.New(), Email: key}
		m.contacts[key] = c
	}
	for _, existing := range c.Tags {
		if existing == tag {
			return nil
		}
	}
	c.Tags = append(c.Tags, tag)
	return nil
}

func (m *memWorkflowRepo) FindContactsByAudience(ctx context.Context, filter domain.AudienceFilter, limit int) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, c := range m.contacts {
		if len(filter.Tags) > 0 && !hasAnyTag(c.Tags, filter.Tags) {
			continue
		}
		if filter.MinPurchaseCount > 0 && c.PurchaseCount < filter.MinPurchaseCount {
			continue
		}
		if filter.DaysSinceLastPurchase > 0 {
			cutoff := time.Now().AddDate(0, 0, -filter.DaysSinceLastPurchase)
			if c.LastPurchaseAt == nil || c.LastPurchaseAt.After(cutoff) {
				continue
			}
		}
		out = append(out, *c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// stubNotifier records every send and can be primed to fail.
type stubNotifier struct {
	sent []string
	fail bool
}

func (s *stubNotifier) Send(ctx context.Context, template, recipient string, data map[string]any) (string, error) {
	if s.fail {
		return "", errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, template+"->"+recipient)
	return "msg-" + template, nil
}

func newTestEngine(repo *memWorkflowRepo, notifier Notifier) *WorkflowEngine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{ResumeSweepBatchSize: 100, AudienceBatchSize: 500}
	queue := NewInlineExecutionQueue()
	engine := NewWorkflowEngine(repo, repo, notifier, queue, cfg, logger)
	queue.Bind(engine)
	return engine
}

func threeStepWorkflow(trigger domain.TriggerType) *domain.Workflow {
	wfID := uuid.New()
	return &domain.Workflow{
		ID:      wfID,
		Name:    "Welcome Series",
		Trigger: trigger,
		Status:  domain.WorkflowActive,
		Steps: []domain.Step{
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 0, Type: domain.StepSendEmail, Config: domain.EmailStepConfig{EmailType: "welcome"}},
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 1, Type: domain.StepAddTag, Config: domain.AddTagStepConfig{Tag: "welcomed"}},
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 2, Type: domain.StepInternalNote, Config: domain.InternalNoteStepConfig{Note: "series done"}},
		},
	}
}

func TestHandleTrigger_RunsAllStepsInOrder(t *testing.T) {
	repo := newMemWorkflowRepo()
	notifier := &stubNotifier{}
	engine := newTestEngine(repo, notifier)
	ctx := context.Background()

	wf := threeStepWorkflow(domain.TriggerSignup)
	repo.CreateWorkflow(ctx, wf)

	ids, err := engine.HandleTrigger(ctx, domain.TriggerEvent{
		Type:  domain.TriggerSignup,
		Email: "Leaf@Example.com",
		Data:  map[string]any{"source": "checkout"},
	})
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(ids))
	}

	exec, err := repo.FindExecutionByID(ctx, ids[0])
	if err != nil {
		t.Fatalf("execution lookup failed: %v", err)
	}
	if exec.Status != domain.ExecutionCompleted {
		t.Fatalf("expected COMPLETED, got %s", exec.Status)
	}
	if exec.CurrentStep != 3 {
		t.Fatalf("expected step pointer 3, got %d", exec.CurrentStep)
	}

	// Outputs of all three steps merged in order.
	if exec.Data["message_id"] != "msg-welcome" {
		t.Fatalf("missing email step output: %v", exec.Data)
	}
	if exec.Data["tag_added"] != "welcomed" {
		t.Fatalf("missing tag step output: %v", exec.Data)
	}
	if exec.Data["note"] != "series done" {
		t.Fatalf("missing note step output: %v", exec.Data)
	}
	if exec.Data["source"] != "checkout" {
		t.Fatalf("event data must survive in the bag: %v", exec.Data)
	}

	if len(notifier.sent) != 1 || notifier.sent[0] != "welcome->leaf@example.com" {
		t.Fatalf("unexpected sends: %v", notifier.sent)
	}
	contact, err := repo.FindContactByEmail(ctx, "leaf@example.com")
	if err != nil || len(contact.Tags) != 1 || contact.Tags[0] != "welcomed" {
		t.Fatalf("expected tagged contact, got %+v err=%v", contact, err)
	}
}

func TestHandleTrigger_AtMostOneOpenExecution(t *testing.T) {
	repo := newMemWorkflowRepo()
	engine := newTestEngine(repo, &stubNotifier{})
	ctx := context.Background()

	// A delayed step keeps the first execution open in WAITING.
	wfID := uuid.New()
	repo.CreateWorkflow(ctx, &domain.Workflow{
		ID:      wfID,
		Name:    "Drip",
		Trigger: domain.TriggerSignup,
		Status:  domain.WorkflowActive,
		Steps: []domain.Step{
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 0, Type: domain.StepWait, DelayMinutes: 60, Config: domain.WaitStepConfig{}},
		},
	})

	event := domain.TriggerEvent{Type: domain.TriggerSignup, Email: "dup@example.com"}
	first, err := engine.HandleTrigger(ctx, event)
	if err != nil || len(first) != 1 {
		t.Fatalf("first trigger: ids=%v err=%v", first, err)
	}
	second, err := engine.HandleTrigger(ctx, event)
	if err != nil {
		t.Fatalf("second trigger errored: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("duplicate trigger must be dropped, got %d executions", len(second))
	}

	open := 0
	for _, e := range repo.executions {
		if !e.Status.IsTerminal() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly 1 open execution, got %d", open)
	}
}

func TestProcessExecution_DelayPauseAndResume(t *testing.T) {
	repo := newMemWorkflowRepo()
	notifier := &stubNotifier{}
	engine := newTestEngine(repo, notifier)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return base }

	wfID := uuid.New()
	repo.CreateWorkflow(ctx, &domain.Workflow{
		ID:      wfID,
		Name:    "Nudge",
		Trigger: domain.TriggerAbandonedCart,
		Status:  domain.WorkflowActive,
		Steps: []domain.Step{
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 0, Type: domain.StepSendEmail, Config: domain.EmailStepConfig{EmailType: "abandoned-cart"}},
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 1, Type: domain.StepWait, DelayMinutes: 60, Config: domain.WaitStepConfig{}},
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 2, Type: domain.StepAddTag, Config: domain.AddTagStepConfig{Tag: "nudged"}},
		},
	})

	ids, err := engine.HandleTrigger(ctx, domain.TriggerEvent{Type: domain.TriggerAbandonedCart, Email: "cart@example.com"})
	if err != nil || len(ids) != 1 {
		t.Fatalf("trigger: ids=%v err=%v", ids, err)
	}

	// Step 0 ran, then the execution parked before the delayed step.
	exec, _ := repo.FindExecutionByID(ctx, ids[0])
	if exec.Status != domain.ExecutionWaiting {
		t.Fatalf("expected WAITING, got %s", exec.Status)
	}
	if exec.CurrentStep != 1 {
		t.Fatalf("expected step pointer 1, got %d", exec.CurrentStep)
	}
	if exec.ResumeAt == nil || !exec.ResumeAt.Equal(base.Add(60*time.Minute)) {
		t.Fatalf("expected resume at +60m, got %v", exec.ResumeAt)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("step 0 should have sent one email, got %v", notifier.sent)
	}

	// A sweep before the resume time claims nothing.
	resumed, err := engine.ResumeWaitingExecutions(ctx)
	if err != nil || resumed != 0 {
		t.Fatalf("early sweep: resumed=%d err=%v", resumed, err)
	}

	// After the delay elapses the sweep claims the execution and the inline
	// queue drives it to completion.
	engine.now = func() time.Time { return base.Add(61 * time.Minute) }
	resumed, err = engine.ResumeWaitingExecutions(ctx)
	if err != nil || resumed != 1 {
		t.Fatalf("due sweep: resumed=%d err=%v", resumed, err)
	}

	exec, _ = repo.FindExecutionByID(ctx, ids[0])
	if exec.Status != domain.ExecutionCompleted {
		t.Fatalf("expected COMPLETED after resume, got %s", exec.Status)
	}
	if exec.Data["tag_added"] != "nudged" {
		t.Fatalf("step after the delay must have run: %v", exec.Data)
	}

	// The claim is exclusive: a second sweep finds nothing.
	resumed, err = engine.ResumeWaitingExecutions(ctx)
	if err != nil || resumed != 0 {
		t.Fatalf("repeat sweep: resumed=%d err=%v", resumed, err)
	}
}

func TestProcessExecution_ConditionFalseFailsExecution(t *testing.T) {
	repo := newMemWorkflowRepo()
	notifier := &stubNotifier{}
	engine := newTestEngine(repo, notifier)
	ctx := context.Background()

	wfID := uuid.New()
	repo.CreateWorkflow(ctx, &domain.Workflow{
		ID:      wfID,
		Name:    "VIP Path",
		Trigger: domain.TriggerPurchase,
		Status:  domain.WorkflowActive,
		Steps: []domain.Step{
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 0, Type: domain.StepCondition,
				Config: domain.ConditionStepConfig{Field: "order_total", Operator: domain.OpGreaterThan, Value: 10000}},
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 1, Type: domain.StepSendEmail, Config: domain.EmailStepConfig{EmailType: "re-engagement"}},
		},
	})

	ids, err := engine.HandleTrigger(ctx, domain.TriggerEvent{
		Type:  domain.TriggerPurchase,
		Email: "small@example.com",
		Data:  map[string]any{"order_total": 500},
	})
	if err != nil || len(ids) != 1 {
		t.Fatalf("trigger: ids=%v err=%v", ids, err)
	}

	exec, _ := repo.FindExecutionByID(ctx, ids[0])
	if exec.Status != domain.ExecutionFailed {
		t.Fatalf("expected FAILED, got %s", exec.Status)
	}
	if exec.Error == nil || !strings.Contains(*exec.Error, "condition not met") {
		t.Fatalf("expected condition error recorded, got %v", exec.Error)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("downstream steps must not run, sent %v", notifier.sent)
	}
}

func TestProcessExecution_StepFailureDoesNotPropagate(t *testing.T) {
	repo := newMemWorkflowRepo()
	engine := newTestEngine(repo, &stubNotifier{fail: true})
	ctx := context.Background()

	wf := threeStepWorkflow(domain.TriggerSignup)
	repo.CreateWorkflow(ctx, wf)

	ids, err := engine.HandleTrigger(ctx, domain.TriggerEvent{Type: domain.TriggerSignup, Email: "fail@example.com"})
	if err != nil {
		t.Fatalf("a step failure must not surface from the trigger: %v", err)
	}
	exec, _ := repo.FindExecutionByID(ctx, ids[0])
	if exec.Status != domain.ExecutionFailed {
		t.Fatalf("expected FAILED, got %s", exec.Status)
	}
	if exec.Error == nil || !strings.Contains(*exec.Error, "email send failed") {
		t.Fatalf("expected the step error on the execution, got %v", exec.Error)
	}
}

func TestProcessExecution_TerminalIsIdempotent(t *testing.T) {
	repo := newMemWorkflowRepo()
	notifier := &stubNotifier{}
	engine := newTestEngine(repo, notifier)
	ctx := context.Background()

	wf := threeStepWorkflow(domain.TriggerSignup)
	repo.CreateWorkflow(ctx, wf)
	ids, _ := engine.HandleTrigger(ctx, domain.TriggerEvent{Type: domain.TriggerSignup, Email: "once@example.com"})

	// Re-delivering the queue message must not re-run the steps.
	if err := engine.ProcessExecution(ctx, ids[0]); err != nil {
		t.Fatalf("reprocessing errored: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(notifier.sent))
	}
}

func TestHandleTrigger_ConditionsGateWorkflows(t *testing.T) {
	repo := newMemWorkflowRepo()
	engine := newTestEngine(repo, &stubNotifier{})
	ctx := context.Background()

	// Tuesday 14:00 UTC.
	now := time.Date(2026, 5, 5, 14, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	nine, seventeen := 9, 17
	wfID := uuid.New()
	repo.CreateWorkflow(ctx, &domain.Workflow{
		ID:      wfID,
		Name:    "Business Hours Cart Nudge",
		Trigger: domain.TriggerAbandonedCart,
		Status:  domain.WorkflowActive,
		Conditions: domain.WorkflowConditions{
			ActiveHourStart: &nine,
			ActiveHourEnd:   &seventeen,
			ActiveDays:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday},
			MinCartCents:    5000,
		},
		Steps: []domain.Step{
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 0, Type: domain.StepInternalNote, Config: domain.InternalNoteStepConfig{Note: "nudge"}},
		},
	})

	// Cart below the minimum: skipped.
	ids, err := engine.HandleTrigger(ctx, domain.TriggerEvent{
		Type: domain.TriggerAbandonedCart, Email: "a@example.com",
		Data: map[string]any{"cart_total_cents": 1200},
	})
	if err != nil || len(ids) != 0 {
		t.Fatalf("small cart should be gated: ids=%v err=%v", ids, err)
	}

	// Qualifying cart inside the window: runs.
	ids, err = engine.HandleTrigger(ctx, domain.TriggerEvent{
		Type: domain.TriggerAbandonedCart, Email: "a@example.com",
		Data: map[string]any{"cart_total_cents": 9900},
	})
	if err != nil || len(ids) != 1 {
		t.Fatalf("qualifying cart should run: ids=%v err=%v", ids, err)
	}

	// Outside the hour window: skipped.
	engine.now = func() time.Time { return time.Date(2026, 5, 5, 22, 0, 0, 0, time.UTC) }
	ids, err = engine.HandleTrigger(ctx, domain.TriggerEvent{
		Type: domain.TriggerAbandonedCart, Email: "b@example.com",
		Data: map[string]any{"cart_total_cents": 9900},
	})
	if err != nil || len(ids) != 0 {
		t.Fatalf("off-hours trigger should be gated: ids=%v err=%v", ids, err)
	}

	// Outside the weekday set (Saturday): skipped.
	engine.now = func() time.Time { return time.Date(2026, 5, 9, 14, 0, 0, 0, time.UTC) }
	ids, err = engine.HandleTrigger(ctx, domain.TriggerEvent{
		Type: domain.TriggerAbandonedCart, Email: "c@example.com",
		Data: map[string]any{"cart_total_cents": 9900},
	})
	if err != nil || len(ids) != 0 {
		t.Fatalf("weekend trigger should be gated: ids=%v err=%v", ids, err)
	}
}

func TestProcessExecution_ChainedDelays(t *testing.T) {
	repo := newMemWorkflowRepo()
	engine := newTestEngine(repo, &stubNotifier{})
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return base }

	wfID := uuid.New()
	repo.CreateWorkflow(ctx, &domain.Workflow{
		ID:      wfID,
		Name:    "Two Waits",
		Trigger: domain.TriggerSignup,
		Status:  domain.WorkflowActive,
		Steps: []domain.Step{
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 0, Type: domain.StepWait, DelayMinutes: 30, Config: domain.WaitStepConfig{}},
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 1, Type: domain.StepWait, DelayMinutes: 30, Config: domain.WaitStepConfig{}},
			{ID: uuid.New(), WorkflowID: wfID, OrderIndex: 2, Type: domain.StepInternalNote, Config: domain.InternalNoteStepConfig{Note: "done"}},
		},
	})

	ids, _ := engine.HandleTrigger(ctx, domain.TriggerEvent{Type: domain.TriggerSignup, Email: "waits@example.com"})
	exec, _ := repo.FindExecutionByID(ctx, ids[0])
	if exec.Status != domain.ExecutionWaiting || exec.CurrentStep != 0 {
		t.Fatalf("expected WAITING at step 0, got %s at %d", exec.Status, exec.CurrentStep)
	}

	// First delay elapses: step 0 executes and the second delay re-parks.
	engine.now = func() time.Time { return base.Add(31 * time.Minute) }
	if resumed, err := engine.ResumeWaitingExecutions(ctx); err != nil || resumed != 1 {
		t.Fatalf("first sweep: resumed=%d err=%v", resumed, err)
	}
	exec, _ = repo.FindExecutionByID(ctx, ids[0])
	if exec.Status != domain.ExecutionWaiting || exec.CurrentStep != 1 {
		t.Fatalf("expected WAITING at step 1, got %s at %d", exec.Status, exec.CurrentStep)
	}

	// Second delay elapses: the workflow completes.
	engine.now = func() time.Time { return base.Add(62 * time.Minute) }
	if resumed, err := engine.ResumeWaitingExecutions(ctx); err != nil || resumed != 1 {
		t.Fatalf("second sweep: resumed=%d err=%v", resumed, err)
	}
	exec, _ = repo.FindExecutionByID(ctx, ids[0])
	if exec.Status != domain.ExecutionCompleted {
		t.Fatalf("expected COMPLETED, got %s", exec.Status)
	}
}
