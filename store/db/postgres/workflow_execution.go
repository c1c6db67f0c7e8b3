package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/store"
)

func (d *DB) CreateWorkflowExecution(ctx context.Context, create *store.WorkflowExecution) (*store.WorkflowExecution, error) {
	var stepResultsJSON any
	if create.StepResults != nil {
		raw, err := marshalJSON(create.StepResults)
		if err != nil {
			return nil, err
		}
		stepResultsJSON = raw
	}

	now := time.Now().Unix()
	completedTs := int64(0)
	if create.Status == store.WorkflowExecutionStatusCompleted {
		completedTs = now
	}

	stmt := `
		INSERT INTO workflow_execution (
			workflow_id, user_id, status, step_results, error_message, started_ts, completed_ts
		) VALUES (` + placeholders(7) + `)
		RETURNING id, started_ts, completed_ts`

	err := d.db.QueryRowContext(ctx, stmt,
		create.WorkflowID,
		create.UserID,
		string(create.Status),
		stepResultsJSON,
		create.ErrorMessage,
		now,
		completedTs,
	).Scan(&create.ID, &create.StartedTs, &create.CompletedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create workflow execution")
	}

	return create, nil
}

func (d *DB) ListWorkflowExecutions(ctx context.Context, find *store.FindWorkflowExecution) ([]*store.WorkflowExecution, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.WorkflowID != nil {
		where, args = append(where, "workflow_id = "+placeholder(len(args)+1)), append(args, *find.WorkflowID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `
		SELECT id, workflow_id, user_id, status, step_results, error_message, started_ts, completed_ts
		FROM workflow_execution
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY started_ts DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workflow executions")
	}
	defer rows.Close()

	list := []*store.WorkflowExecution{}
	for rows.Next() {
		var execution store.WorkflowExecution
		var status string
		var stepResultsJSON sql.NullString

		err := rows.Scan(
			&execution.ID,
			&execution.WorkflowID,
			&execution.UserID,
			&status,
			&stepResultsJSON,
			&execution.ErrorMessage,
			&execution.StartedTs,
			&execution.CompletedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan workflow execution")
		}

		execution.Status = store.WorkflowExecutionStatus(status)
		if stepResultsJSON.Valid {
			if err := unmarshalJSON([]byte(stepResultsJSON.String), &execution.StepResults); err != nil {
				return nil, err
			}
		}

		list = append(list, &execution)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
