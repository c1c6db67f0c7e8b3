package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that interact with the underlying database.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// Workflow model.
	CreateWorkflow(ctx context.Context, create *Workflow) (*Workflow, error)
	ListWorkflows(ctx context.Context, find *FindWorkflow) ([]*Workflow, error)
	ApplyWorkflowOutcome(ctx context.Context, update *UpdateWorkflowOutcome) (bool, error)
	MarkWorkflowTemplate(ctx context.Context, id int64, creatorID int32) (bool, error)
	GetWorkflowStats(ctx context.Context, find *FindWorkflowStats) (*WorkflowStats, error)
	FindWorkflowsWithoutEmbedding(ctx context.Context, limit int) ([]*Workflow, error)

	// WorkflowExecution model.
	CreateWorkflowExecution(ctx context.Context, create *WorkflowExecution) (*WorkflowExecution, error)
	ListWorkflowExecutions(ctx context.Context, find *FindWorkflowExecution) ([]*WorkflowExecution, error)

	// Embedding model.
	UpsertEmbedding(ctx context.Context, embedding *Embedding) (*Embedding, error)
	ListEmbeddings(ctx context.Context, find *FindEmbedding) ([]*Embedding, error)
	DeleteEmbedding(ctx context.Context, contentID int64, sourceKind string) error
	DeleteOrphanedEmbeddings(ctx context.Context) (int64, error)
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*EmbeddingWithScore, error)
	KeywordSearch(ctx context.Context, opts *KeywordSearchOptions) ([]*KeywordMatch, error)
}
