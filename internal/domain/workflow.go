/**
 * @description
 * This file defines the domain models for the marketing automation engine:
 * workflow definitions, their ordered steps, per-subject executions, contacts,
 * and scheduled social posts.
 *
 * @notes
 * - Step configuration is a closed set of typed variants rather than a
 *   free-form map. The store persists the variant as JSONB and decodes it
 *   back through DecodeStepConfig, so an unknown step type surfaces as a
 *   load-time error instead of a runtime key-lookup miss.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerType is the event category that starts matching workflows.
type TriggerType string

const (
	TriggerSignup        TriggerType = "SIGNUP"
	TriggerAbandonedCart TriggerType = "ABANDONED_CART"
	TriggerPurchase      TriggerType = "PURCHASE"
	TriggerCustomEvent   TriggerType = "CUSTOM_EVENT"
)

// WorkflowStatus is the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowActive WorkflowStatus = "ACTIVE"
	WorkflowPaused WorkflowStatus = "PAUSED"
	WorkflowDraft  WorkflowStatus = "DRAFT"
)

// WorkflowConditions gate whether a trigger event starts a workflow at all.
// All zero-valued fields are treated as "no restriction".
type WorkflowConditions struct {
	ActiveHourStart *int           `json:"active_hour_start,omitempty"` // inclusive, 0-23
	ActiveHourEnd   *int           `json:"active_hour_end,omitempty"`   // exclusive
	ActiveDays      []time.Weekday `json:"active_days,omitempty"`
	MinCartCents    int64          `json:"min_cart_cents,omitempty"` // ABANDONED_CART only
}

// Workflow is an automation definition: a trigger plus an ordered list of steps.
type Workflow struct {
	ID         uuid.UUID          `json:"id"`
	Name       string             `json:"name"`
	Trigger    TriggerType        `json:"trigger"`
	Status     WorkflowStatus     `json:"status"`
	Conditions WorkflowConditions `json:"conditions"`
	Steps      []Step             `json:"steps,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// StepType enumerates the closed set of step handlers.
type StepType string

const (
	StepSendEmail     StepType = "SEND_EMAIL"
	StepWait          StepType = "WAIT"
	StepCondition     StepType = "CONDITION"
	StepUpdateContact StepType = "UPDATE_CONTACT"
	StepAddTag        StepType = "ADD_TAG"
	StepWebhook       StepType = "WEBHOOK"
	StepSocialPost    StepType = "SOCIAL_POST"
	StepInternalNote  StepType = "INTERNAL_NOTE"
)

// Step belongs to exactly one workflow. DelayMinutes is applied before the
// step executes: a positive delay parks the execution in WAITING until the
// resume sweep picks it back up.
type Step struct {
	ID           uuid.UUID  `json:"id"`
	WorkflowID   uuid.UUID  `json:"workflow_id"`
	OrderIndex   int        `json:"order_index"`
	Type         StepType   `json:"type"`
	DelayMinutes int        `json:"delay_minutes"`
	Config       StepConfig `json:"config"`
}

// StepConfig is the tagged-union interface over the per-type payloads below.
type StepConfig interface {
	stepConfig()
}

// EmailStepConfig selects which transactional template the Notifier renders.
type EmailStepConfig struct {
	EmailType string `json:"email_type"` // welcome, abandoned-cart, re-engagement
}

// WaitStepConfig carries no payload; the delay lives on the step itself.
type WaitStepConfig struct{}

// ConditionOperator is the closed operator set for CONDITION steps.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpContains    ConditionOperator = "contains"
	OpExists      ConditionOperator = "exists"
)

// ConditionStepConfig evaluates `Field <Operator> Value` against the
// execution's data bag. When Expression is set it takes precedence and is
// evaluated as a boolean expr-lang expression instead.
type ConditionStepConfig struct {
	Field      string            `json:"field,omitempty"`
	Operator   ConditionOperator `json:"operator,omitempty"`
	Value      any               `json:"value,omitempty"`
	Expression string            `json:"expression,omitempty"`
}

// UpdateContactStepConfig applies a partial update to the contact record.
type UpdateContactStepConfig struct {
	Updates map[string]any `json:"updates"`
}

// AddTagStepConfig adds a tag to the contact's tag set; idempotent.
type AddTagStepConfig struct {
	Tag string `json:"tag"`
}

// WebhookStepConfig posts the execution's data bag as JSON to URL.
type WebhookStepConfig struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"` // defaults to POST
}

// SocialPostStepConfig schedules a social post; Content supports {{field}}
// interpolation against the data bag.
type SocialPostStepConfig struct {
	Platform string   `json:"platform"`
	Content  string   `json:"content"`
	MediaURL *string  `json:"media_url,omitempty"`
	Hashtags []string `json:"hashtags,omitempty"`
}

// InternalNoteStepConfig logs an operator-facing note and nothing else.
type InternalNoteStepConfig struct {
	Note string `json:"note"`
}

func (EmailStepConfig) stepConfig()         {}
func (WaitStepConfig) stepConfig()          {}
func (ConditionStepConfig) stepConfig()     {}
func (UpdateContactStepConfig) stepConfig() {}
func (AddTagStepConfig) stepConfig()        {}
func (WebhookStepConfig) stepConfig()       {}
func (SocialPostStepConfig) stepConfig()    {}
func (InternalNoteStepConfig) stepConfig()  {}

// DecodeStepConfig unmarshals a raw JSONB config payload into the typed
// variant for the given step type.
func DecodeStepConfig(t StepType, raw []byte) (StepConfig, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch t {
	case StepSendEmail:
		var c EmailStepConfig
		return c, json.Unmarshal(raw, &c)
	case StepWait:
		return WaitStepConfig{}, nil
	case StepCondition:
		var c ConditionStepConfig
		return c, json.Unmarshal(raw, &c)
	case StepUpdateContact:
		var c UpdateContactStepConfig
		return c, json.Unmarshal(raw, &c)
	case StepAddTag:
		var c AddTagStepConfig
		return c, json.Unmarshal(raw, &c)
	case StepWebhook:
		var c WebhookStepConfig
		return c, json.Unmarshal(raw, &c)
	case StepSocialPost:
		var c SocialPostStepConfig
		return c, json.Unmarshal(raw, &c)
	case StepInternalNote:
		var c InternalNoteStepConfig
		return c, json.Unmarshal(raw, &c)
	default:
		return nil, fmt.Errorf("unknown step type %q", t)
	}
}

// ExecutionStatus is the per-subject state machine:
// PENDING -> RUNNING -> (WAITING -> RUNNING)* -> COMPLETED | FAILED.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionWaiting   ExecutionStatus = "WAITING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// IsTerminal reports whether the status can never change again.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// Execution is one run of a workflow for one subject. CurrentStep is the
// resume pointer: steps below it have executed and will never re-execute.
// ResumeAt is set while the execution is parked in WAITING; it stays set
// until the delayed step actually runs, which is how a resumed execution
// knows its delay has already been served.
type Execution struct {
	ID          uuid.UUID       `json:"id"`
	WorkflowID  uuid.UUID       `json:"workflow_id"`
	Email       string          `json:"email"`
	CustomerID  *string         `json:"customer_id,omitempty"`
	Status      ExecutionStatus `json:"status"`
	CurrentStep int             `json:"current_step"`
	Data        map[string]any  `json:"data"`
	ResumeAt    *time.Time      `json:"resume_at,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TriggerEvent is the inbound event handed to the engine by storefront
// route handlers (signup, abandoned cart, purchase) or by the campaign
// manager (custom events).
type TriggerEvent struct {
	Type       TriggerType    `json:"type"`
	Email      string         `json:"email"`
	CustomerID *string        `json:"customer_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Contact is the marketing contact record that UPDATE_CONTACT and ADD_TAG
// steps mutate and that campaign audience filters select over.
type Contact struct {
	ID             uuid.UUID      `json:"id"`
	Email          string         `json:"email"`
	Name           *string        `json:"name,omitempty"`
	Tags           []string       `json:"tags"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	PurchaseCount  int            `json:"purchase_count"`
	LastPurchaseAt *time.Time     `json:"last_purchase_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ScheduledPost is the handoff row consumed by the external social
// publisher; this core only ever writes it.
type ScheduledPost struct {
	ID          uuid.UUID `json:"id"`
	Platform    string    `json:"platform"` // instagram, facebook
	Content     string    `json:"content"`
	MediaURL    *string   `json:"media_url,omitempty"`
	Hashtags    []string  `json:"hashtags,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"` // 'scheduled', 'published', 'failed'
	CreatedAt   time.Time `json:"created_at"`
}
