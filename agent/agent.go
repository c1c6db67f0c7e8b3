// Package agent defines the collaborator contracts around the workflow
// memory: planning, action execution, and chat delivery stay behind narrow
// interfaces so the memory subsystem never depends on their implementations.
package agent

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/ai/memory"
	"github.com/UtkarshDeoli/Kite/store"
)

// Task is one user request moving through the agent.
type Task struct {
	ID        uuid.UUID
	UserID    int32
	Prompt    string
	Category  string
	Intent    string
	Templates []*store.Workflow // candidate workflows retrieved from memory
}

// NewTask builds a task for a user prompt.
func NewTask(userID int32, prompt string) *Task {
	return &Task{
		ID:     uuid.New(),
		UserID: userID,
		Prompt: prompt,
	}
}

// Planner turns a task into an executable step sequence. Implementations call
// a language model; Templates gives them prior successful workflows to adapt.
type Planner interface {
	Plan(ctx context.Context, task *Task) ([]store.WorkflowStep, error)
	Summarize(ctx context.Context, task *Task, steps []store.WorkflowStep) (string, error)
}

// ActionRunner executes planned steps against the outside world and returns
// the steps as actually performed.
type ActionRunner interface {
	Run(ctx context.Context, task *Task, steps []store.WorkflowStep) ([]store.WorkflowStep, error)
}

// ChatTransport delivers progress and results back to the user.
type ChatTransport interface {
	Send(ctx context.Context, userID int32, message string) error
}

// Agent coordinates one task end to end: retrieve prior workflows, plan, run,
// and fold the outcome back into memory.
type Agent struct {
	repository *memory.WorkflowRepository
	retriever  *memory.HybridRetriever
	planner    Planner
	runner     ActionRunner
	transport  ChatTransport
}

func New(repository *memory.WorkflowRepository, retriever *memory.HybridRetriever, planner Planner, runner ActionRunner, transport ChatTransport) *Agent {
	return &Agent{
		repository: repository,
		retriever:  retriever,
		planner:    planner,
		runner:     runner,
		transport:  transport,
	}
}

// Handle processes one user prompt. Prior workflows are offered to the
// planner as templates; a reused workflow gets an execution record, a novel
// one is recorded fresh. Memory failures during retrieval degrade to planning
// without templates rather than failing the task.
func (a *Agent) Handle(ctx context.Context, task *Task) error {
	templates, err := a.retriever.FindSimilar(ctx, task.UserID, task.Prompt, nil, 3)
	if err != nil {
		if !memory.IsEmbeddingUnavailable(err) {
			return errors.Wrap(err, "failed to retrieve similar workflows")
		}
		slog.Warn("planning without templates", "taskID", task.ID, "err", err)
	}
	task.Templates = templates

	steps, err := a.planner.Plan(ctx, task)
	if err != nil {
		return errors.Wrap(err, "planning failed")
	}

	performed, runErr := a.runner.Run(ctx, task, steps)

	if reused := reusedWorkflow(templates, steps); reused != nil {
		status := store.WorkflowExecutionStatusCompleted
		errorMessage := ""
		if runErr != nil {
			status = store.WorkflowExecutionStatusFailed
			errorMessage = runErr.Error()
		}
		_, err := a.repository.RecordExecution(ctx, &memory.RecordExecutionRequest{
			WorkflowID:   reused.ID,
			UserID:       task.UserID,
			Status:       status,
			StepResults:  performed,
			ErrorMessage: errorMessage,
		})
		if err != nil {
			slog.Warn("failed to record execution", "taskID", task.ID, "workflowID", reused.ID, "err", err)
		}
	} else if runErr == nil {
		summary, err := a.planner.Summarize(ctx, task, performed)
		if err != nil {
			slog.Warn("failed to summarize workflow", "taskID", task.ID, "err", err)
		}
		_, err = a.repository.Record(ctx, &memory.RecordWorkflowRequest{
			CreatorID:      task.UserID,
			Category:       task.Category,
			IntentType:     task.Intent,
			OriginalPrompt: task.Prompt,
			Summary:        summary,
			Steps:          performed,
		})
		if err != nil {
			slog.Warn("failed to record workflow", "taskID", task.ID, "err", err)
		}
	}

	if runErr != nil {
		return errors.Wrap(runErr, "task execution failed")
	}
	return a.transport.Send(ctx, task.UserID, "done")
}

// reusedWorkflow reports which template, if any, the plan was taken from.
// A plan counts as reused when its actions match a template's stored steps.
func reusedWorkflow(templates []*store.Workflow, steps []store.WorkflowStep) *store.Workflow {
	for _, template := range templates {
		if len(template.Steps) != len(steps) {
			continue
		}
		same := true
		for i := range steps {
			if template.Steps[i].Action != steps[i].Action {
				same = false
				break
			}
		}
		if same {
			return template
		}
	}
	return nil
}
