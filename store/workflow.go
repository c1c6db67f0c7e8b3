package store

import "context"

// WorkflowStep is one recorded step of an automation workflow.
type WorkflowStep struct {
	Params map[string]any `json:"params,omitempty"`
	Action string         `json:"action"`
}

// Workflow represents a recorded, reusable sequence of steps that accomplished
// a user's request, with tracked outcome statistics.
type Workflow struct {
	Parameters     map[string]any
	UID            string
	Category       string
	IntentType     string
	OriginalPrompt string
	Summary        string
	Keywords       []string // canonical ordered keyword list, stored comma-joined
	Steps          []WorkflowStep
	ID             int64
	CreatedTs      int64
	UpdatedTs      int64
	SuccessRate    float64
	SuccessCount   int32
	TotalCount     int32
	CreatorID      int32
	Rating         int32
	IsTemplate     bool
}

// FindWorkflow specifies the conditions for finding workflows.
type FindWorkflow struct {
	ID         *int64
	CreatorID  *int32
	Category   *string
	IntentType *string
	IsTemplate *bool
	// OrderByPerformance orders by success_rate DESC, success_count DESC, rating DESC.
	// The default order is created_ts DESC.
	OrderByPerformance bool
	Limit              int
}

// UpdateWorkflowOutcome describes one terminal execution outcome folded into a
// workflow's counters. The drivers apply it as a single atomic statement so
// concurrent completions of the same workflow never lose updates.
type UpdateWorkflowOutcome struct {
	NewSteps      []WorkflowStep // optional replacement, nil keeps current steps
	ID            int64
	WasSuccessful bool
}

// WorkflowStats is an aggregate view over a set of workflows.
type WorkflowStats struct {
	TotalWorkflows      int64
	SuccessfulWorkflows int64 // workflows with success_rate >= 0.8
	AverageSuccessRate  float64
}

// FindWorkflowStats filters the aggregate computation.
type FindWorkflowStats struct {
	CreatorID *int32
	Category  *string
}

// CreateWorkflow inserts a workflow row and returns it with store-assigned fields.
func (s *Store) CreateWorkflow(ctx context.Context, create *Workflow) (*Workflow, error) {
	return s.driver.CreateWorkflow(ctx, create)
}

// GetWorkflow gets a workflow by id. Returns (nil, nil) when it does not exist.
func (s *Store) GetWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	list, err := s.driver.ListWorkflows(ctx, &FindWorkflow{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListWorkflows lists workflows matching the find condition.
func (s *Store) ListWorkflows(ctx context.Context, find *FindWorkflow) ([]*Workflow, error) {
	return s.driver.ListWorkflows(ctx, find)
}

// ApplyWorkflowOutcome folds one execution outcome into the workflow's
// (success_count, total_count, success_rate) triple. Returns false when the
// workflow does not exist.
func (s *Store) ApplyWorkflowOutcome(ctx context.Context, update *UpdateWorkflowOutcome) (bool, error) {
	return s.driver.ApplyWorkflowOutcome(ctx, update)
}

// MarkWorkflowTemplate promotes a workflow owned by creatorID to a template.
// Returns false when no matching row exists.
func (s *Store) MarkWorkflowTemplate(ctx context.Context, id int64, creatorID int32) (bool, error) {
	return s.driver.MarkWorkflowTemplate(ctx, id, creatorID)
}

// GetWorkflowStats computes aggregate statistics over matching workflows.
func (s *Store) GetWorkflowStats(ctx context.Context, find *FindWorkflowStats) (*WorkflowStats, error) {
	return s.driver.GetWorkflowStats(ctx, find)
}

// FindWorkflowsWithoutEmbedding finds workflows that have no embedding row yet.
func (s *Store) FindWorkflowsWithoutEmbedding(ctx context.Context, limit int) ([]*Workflow, error) {
	return s.driver.FindWorkflowsWithoutEmbedding(ctx, limit)
}
