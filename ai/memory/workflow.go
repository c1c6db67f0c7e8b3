package memory

import (
	"context"
	"log/slog"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/ai/metrics"
	"github.com/UtkarshDeoli/Kite/store"
)

// WorkflowStore is the slice of the store the repository needs.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, create *store.Workflow) (*store.Workflow, error)
	GetWorkflow(ctx context.Context, id int64) (*store.Workflow, error)
	ListWorkflows(ctx context.Context, find *store.FindWorkflow) ([]*store.Workflow, error)
	ApplyWorkflowOutcome(ctx context.Context, update *store.UpdateWorkflowOutcome) (bool, error)
	MarkWorkflowTemplate(ctx context.Context, id int64, creatorID int32) (bool, error)
	GetWorkflowStats(ctx context.Context, find *store.FindWorkflowStats) (*store.WorkflowStats, error)
	CreateWorkflowExecution(ctx context.Context, create *store.WorkflowExecution) (*store.WorkflowExecution, error)
	ListWorkflowExecutions(ctx context.Context, find *store.FindWorkflowExecution) ([]*store.WorkflowExecution, error)
}

// WorkflowRepository records workflows the assistant completed and folds
// subsequent execution outcomes back into their statistics.
type WorkflowRepository struct {
	store     WorkflowStore
	index     *EmbeddingIndex
	extractor *KeywordExtractor
	metrics   *metrics.PrometheusExporter
}

// NewWorkflowRepository builds a repository over st. index may be nil to run
// without semantic indexing; exporter may be nil to disable metrics.
func NewWorkflowRepository(st WorkflowStore, index *EmbeddingIndex, exporter *metrics.PrometheusExporter) *WorkflowRepository {
	return &WorkflowRepository{
		store:     st,
		index:     index,
		extractor: NewIndexKeywordExtractor(),
		metrics:   exporter,
	}
}

// RecordWorkflowRequest describes a completed workflow to be remembered.
type RecordWorkflowRequest struct {
	Parameters     map[string]any
	Category       string
	IntentType     string
	OriginalPrompt string
	Summary        string
	Steps          []store.WorkflowStep
	CreatorID      int32
	Rating         int32 // 1-5, 0 means default
	IsTemplate     bool
}

// Record persists a workflow that just succeeded. The row starts with one
// successful attempt counted, so a workflow that is recorded and never run
// again reads as fully successful. Indexing failures are logged and absorbed;
// the backfill sweep repairs them later.
func (r *WorkflowRepository) Record(ctx context.Context, request *RecordWorkflowRequest) (*store.Workflow, error) {
	if request.OriginalPrompt == "" {
		return nil, errors.New("original prompt cannot be empty")
	}
	rating := request.Rating
	if rating == 0 {
		rating = 5
	}

	workflow, err := r.store.CreateWorkflow(ctx, &store.Workflow{
		UID:            shortuuid.New(),
		CreatorID:      request.CreatorID,
		Category:       request.Category,
		IntentType:     request.IntentType,
		OriginalPrompt: request.OriginalPrompt,
		Summary:        request.Summary,
		Keywords:       r.extractor.Extract(request.OriginalPrompt),
		Steps:          request.Steps,
		Parameters:     request.Parameters,
		SuccessRate:    1.0,
		SuccessCount:   1,
		TotalCount:     1,
		Rating:         rating,
		IsTemplate:     request.IsTemplate,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create workflow")
	}

	if r.index != nil {
		err := r.index.Store(ctx, workflow.ID, store.SourceKindWorkflow, workflowEmbeddingText(workflow), nil, workflowEmbeddingMetadata(workflow))
		if err != nil {
			slog.Warn("failed to index workflow", "workflowID", workflow.ID, "err", err)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordWorkflowRecorded()
	}
	slog.Info("recorded workflow", "workflowID", workflow.ID, "category", workflow.Category, "intentType", workflow.IntentType)
	return workflow, nil
}

// UpdateSuccess folds one terminal outcome into the workflow's counters.
// newSteps, when non-nil, replaces the stored steps with the refined sequence
// from this run. Updating a missing workflow is logged and absorbed.
func (r *WorkflowRepository) UpdateSuccess(ctx context.Context, workflowID int64, wasSuccessful bool, newSteps []store.WorkflowStep) error {
	found, err := r.store.ApplyWorkflowOutcome(ctx, &store.UpdateWorkflowOutcome{
		ID:            workflowID,
		WasSuccessful: wasSuccessful,
		NewSteps:      newSteps,
	})
	if err != nil {
		return errors.Wrap(err, "failed to apply workflow outcome")
	}
	if !found {
		slog.Warn("workflow not found for outcome update", "workflowID", workflowID)
	}
	return nil
}

// RecordExecutionRequest describes one attempt to run a stored workflow.
type RecordExecutionRequest struct {
	Status       store.WorkflowExecutionStatus
	ErrorMessage string
	StepResults  []store.WorkflowStep
	WorkflowID   int64
	UserID       int32
}

// RecordExecution appends an execution row for a workflow. A terminal status
// also updates the workflow's counters; a pending one only records the
// attempt. Executions against a missing workflow are logged and dropped.
func (r *WorkflowRepository) RecordExecution(ctx context.Context, request *RecordExecutionRequest) (*store.WorkflowExecution, error) {
	workflow, err := r.store.GetWorkflow(ctx, request.WorkflowID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get workflow")
	}
	if workflow == nil {
		slog.Warn("execution recorded against missing workflow", "workflowID", request.WorkflowID)
		return nil, nil
	}

	execution, err := r.store.CreateWorkflowExecution(ctx, &store.WorkflowExecution{
		WorkflowID:   request.WorkflowID,
		UserID:       request.UserID,
		Status:       request.Status,
		StepResults:  request.StepResults,
		ErrorMessage: request.ErrorMessage,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create workflow execution")
	}

	if request.Status.IsTerminal() {
		wasSuccessful := request.Status == store.WorkflowExecutionStatusCompleted
		if err := r.UpdateSuccess(ctx, request.WorkflowID, wasSuccessful, request.StepResults); err != nil {
			return nil, err
		}
	}

	if r.metrics != nil {
		r.metrics.RecordExecutionRecorded(string(request.Status))
	}
	return execution, nil
}

// GetWorkflow returns the workflow with id, or nil when absent.
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id int64) (*store.Workflow, error) {
	return r.store.GetWorkflow(ctx, id)
}

// GetBestWorkflow returns the creator's best-performing workflow for an
// intent, or nil when none exists. category narrows the match when non-nil.
func (r *WorkflowRepository) GetBestWorkflow(ctx context.Context, creatorID int32, intentType string, category *string) (*store.Workflow, error) {
	workflows, err := r.store.ListWorkflows(ctx, &store.FindWorkflow{
		CreatorID:          &creatorID,
		IntentType:         &intentType,
		Category:           category,
		OrderByPerformance: true,
		Limit:              1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workflows")
	}
	if len(workflows) == 0 {
		return nil, nil
	}
	return workflows[0], nil
}

// GetWorkflowTemplates returns stored templates, best-performing first.
func (r *WorkflowRepository) GetWorkflowTemplates(ctx context.Context, category, intentType *string, limit int) ([]*store.Workflow, error) {
	if limit <= 0 {
		limit = 10
	}
	isTemplate := true
	return r.store.ListWorkflows(ctx, &store.FindWorkflow{
		IsTemplate:         &isTemplate,
		Category:           category,
		IntentType:         intentType,
		OrderByPerformance: true,
		Limit:              limit,
	})
}

// ConvertToTemplate promotes a creator's workflow into a reusable template.
// It returns false when the workflow does not exist or belongs to someone else.
func (r *WorkflowRepository) ConvertToTemplate(ctx context.Context, workflowID int64, creatorID int32) (bool, error) {
	return r.store.MarkWorkflowTemplate(ctx, workflowID, creatorID)
}

// GetExecutionHistory returns the most recent executions of a workflow,
// newest first.
func (r *WorkflowRepository) GetExecutionHistory(ctx context.Context, workflowID int64, limit int) ([]*store.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.store.ListWorkflowExecutions(ctx, &store.FindWorkflowExecution{
		WorkflowID: &workflowID,
		Limit:      limit,
	})
}

// GetStatistics aggregates workflow outcomes, optionally narrowed to one
// creator or category.
func (r *WorkflowRepository) GetStatistics(ctx context.Context, creatorID *int32, category *string) (*store.WorkflowStats, error) {
	return r.store.GetWorkflowStats(ctx, &store.FindWorkflowStats{
		CreatorID: creatorID,
		Category:  category,
	})
}
