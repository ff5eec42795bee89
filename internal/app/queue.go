package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/verdantnursery/marketing-service/pkg/rabbitmq"
)

// RoutingKeyExecutionCreated is the routing key workflow execution handoff
// messages are published and consumed on.
const RoutingKeyExecutionCreated = "workflow.execution.created"

// AMQPExecutionQueue hands executions to the worker through RabbitMQ.
type AMQPExecutionQueue struct {
	producer rabbitmq.Publisher
	exchange string
}

func NewAMQPExecutionQueue(producer rabbitmq.Publisher, exchange string) *AMQPExecutionQueue {
	return &AMQPExecutionQueue{producer: producer, exchange: exchange}
}

func (q *AMQPExecutionQueue) Enqueue(ctx context.Context, executionID uuid.UUID) error {
	payload := ExecutionCreatedPayload{ExecutionID: executionID}
	if err := q.producer.Publish(ctx, q.exchange, RoutingKeyExecutionCreated, payload); err != nil {
		return fmt.Errorf("failed to publish execution %s: %w", executionID, err)
	}
	return nil
}

// InlineExecutionQueue processes executions synchronously on enqueue. It is
// the fallback when RabbitMQ is unavailable at startup, so triggers still
// drive workflows to completion in a single process.
type InlineExecutionQueue struct {
	engine *WorkflowEngine
}

func NewInlineExecutionQueue() *InlineExecutionQueue {
	return &InlineExecutionQueue{}
}

// Bind attaches the engine after construction. The queue is a constructor
// dependency of the engine, so the two are wired in two phases.
func (q *InlineExecutionQueue) Bind(engine *WorkflowEngine) {
	q.engine = engine
}

func (q *InlineExecutionQueue) Enqueue(ctx context.Context, executionID uuid.UUID) error {
	if q.engine == nil {
		return fmt.Errorf("inline queue has no engine bound")
	}
	return q.engine.ProcessExecution(ctx, executionID)
}
