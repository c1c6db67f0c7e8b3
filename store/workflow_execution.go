package store

import "context"

// WorkflowExecutionStatus is the lifecycle status of a workflow execution.
type WorkflowExecutionStatus string

const (
	WorkflowExecutionStatusPending   WorkflowExecutionStatus = "pending"
	WorkflowExecutionStatusCompleted WorkflowExecutionStatus = "completed"
	WorkflowExecutionStatusFailed    WorkflowExecutionStatus = "failed"
)

// IsTerminal returns true for statuses that end an execution. A terminal
// execution is the only trigger for updating workflow counters.
func (s WorkflowExecutionStatus) IsTerminal() bool {
	return s == WorkflowExecutionStatusCompleted || s == WorkflowExecutionStatusFailed
}

// WorkflowExecution is one attempt to run a workflow. Rows are append-only.
type WorkflowExecution struct {
	StepResults  []WorkflowStep
	ErrorMessage string
	Status       WorkflowExecutionStatus
	ID           int64
	WorkflowID   int64
	CompletedTs  int64 // 0 while not completed
	StartedTs    int64
	UserID       int32
}

// FindWorkflowExecution specifies the conditions for finding executions.
type FindWorkflowExecution struct {
	ID         *int64
	WorkflowID *int64
	UserID     *int32
	Limit      int
}

// CreateWorkflowExecution appends an execution row.
func (s *Store) CreateWorkflowExecution(ctx context.Context, create *WorkflowExecution) (*WorkflowExecution, error) {
	return s.driver.CreateWorkflowExecution(ctx, create)
}

// ListWorkflowExecutions lists executions, most recent first.
func (s *Store) ListWorkflowExecutions(ctx context.Context, find *FindWorkflowExecution) ([]*WorkflowExecution, error) {
	return s.driver.ListWorkflowExecutions(ctx, find)
}
