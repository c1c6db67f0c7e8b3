package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/store"
)

func (d *DB) CreateWorkflow(ctx context.Context, create *store.Workflow) (*store.Workflow, error) {
	stepsJSON, err := marshalJSON(create.Steps)
	if err != nil {
		return nil, err
	}
	if stepsJSON == "" {
		stepsJSON = "[]"
	}
	paramsJSON, err := marshalJSON(create.Parameters)
	if err != nil {
		return nil, err
	}
	if paramsJSON == "" {
		paramsJSON = "{}"
	}

	now := time.Now().Unix()
	stmt := `
		INSERT INTO workflow (
			uid, creator_id, category, intent_type, keywords, original_prompt,
			summary, steps, parameters, success_rate, success_count, total_count,
			rating, is_template, created_ts, updated_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_ts, updated_ts`

	err = d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.CreatorID,
		create.Category,
		create.IntentType,
		strings.Join(create.Keywords, ","),
		create.OriginalPrompt,
		create.Summary,
		stepsJSON,
		paramsJSON,
		create.SuccessRate,
		create.SuccessCount,
		create.TotalCount,
		create.Rating,
		create.IsTemplate,
		now,
		now,
	).Scan(&create.ID, &create.CreatedTs, &create.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create workflow")
	}

	return create, nil
}

func (d *DB) ListWorkflows(ctx context.Context, find *store.FindWorkflow) ([]*store.Workflow, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = ?"), append(args, *find.CreatorID)
	}
	if find.Category != nil {
		where, args = append(where, "category = ?"), append(args, *find.Category)
	}
	if find.IntentType != nil {
		where, args = append(where, "intent_type = ?"), append(args, *find.IntentType)
	}
	if find.IsTemplate != nil {
		where, args = append(where, "is_template = ?"), append(args, *find.IsTemplate)
	}

	query := `
		SELECT
			id, uid, creator_id, category, intent_type, keywords, original_prompt,
			summary, steps, parameters, success_rate, success_count, total_count,
			rating, is_template, created_ts, updated_ts
		FROM workflow
		WHERE ` + strings.Join(where, " AND ")
	if find.OrderByPerformance {
		query += " ORDER BY success_rate DESC, success_count DESC, rating DESC"
	} else {
		query += " ORDER BY created_ts DESC"
	}
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workflows")
	}
	defer rows.Close()

	list := []*store.Workflow{}
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// ApplyWorkflowOutcome folds the outcome into the counter triple with a single
// UPDATE so concurrent terminal executions never lose increments. success_rate
// is recomputed in the same statement from the pre-update column values.
func (d *DB) ApplyWorkflowOutcome(ctx context.Context, update *store.UpdateWorkflowOutcome) (bool, error) {
	successDelta := 0
	if update.WasSuccessful {
		successDelta = 1
	}

	var stepsJSON any
	if update.NewSteps != nil {
		raw, err := marshalJSON(update.NewSteps)
		if err != nil {
			return false, err
		}
		stepsJSON = raw
	}

	stmt := `
		UPDATE workflow
		SET success_count = success_count + ?,
			total_count = total_count + 1,
			success_rate = CAST(success_count + ? AS REAL) / (total_count + 1),
			steps = COALESCE(?, steps),
			updated_ts = ?
		WHERE id = ?`

	result, err := d.db.ExecContext(ctx, stmt,
		successDelta,
		successDelta,
		stepsJSON,
		time.Now().Unix(),
		update.ID,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to apply workflow outcome")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get affected rows")
	}
	return rowsAffected > 0, nil
}

func (d *DB) MarkWorkflowTemplate(ctx context.Context, id int64, creatorID int32) (bool, error) {
	stmt := `UPDATE workflow SET is_template = 1, updated_ts = ? WHERE id = ? AND creator_id = ?`
	result, err := d.db.ExecContext(ctx, stmt, time.Now().Unix(), id, creatorID)
	if err != nil {
		return false, errors.Wrap(err, "failed to mark workflow template")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get affected rows")
	}
	return rowsAffected > 0, nil
}

func (d *DB) GetWorkflowStats(ctx context.Context, find *store.FindWorkflowStats) (*store.WorkflowStats, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.CreatorID != nil {
		where, args = append(where, "creator_id = ?"), append(args, *find.CreatorID)
	}
	if find.Category != nil {
		where, args = append(where, "category = ?"), append(args, *find.Category)
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success_rate >= 0.8 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(success_rate), 0)
		FROM workflow
		WHERE ` + strings.Join(where, " AND ")

	stats := &store.WorkflowStats{}
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalWorkflows,
		&stats.SuccessfulWorkflows,
		&stats.AverageSuccessRate,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get workflow stats")
	}
	return stats, nil
}

func (d *DB) FindWorkflowsWithoutEmbedding(ctx context.Context, limit int) ([]*store.Workflow, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			w.id, w.uid, w.creator_id, w.category, w.intent_type, w.keywords,
			w.original_prompt, w.summary, w.steps, w.parameters, w.success_rate,
			w.success_count, w.total_count, w.rating, w.is_template, w.created_ts, w.updated_ts
		FROM workflow w
		LEFT JOIN embedding e ON w.id = e.content_id AND e.source_kind = ?
		WHERE e.id IS NULL
			AND LENGTH(w.original_prompt) > 0
		ORDER BY w.created_ts DESC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, store.SourceKindWorkflow, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find workflows without embedding")
	}
	defer rows.Close()

	list := []*store.Workflow{}
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*store.Workflow, error) {
	var workflow store.Workflow
	var keywords string
	var stepsJSON, paramsJSON []byte

	err := row.Scan(
		&workflow.ID,
		&workflow.UID,
		&workflow.CreatorID,
		&workflow.Category,
		&workflow.IntentType,
		&keywords,
		&workflow.OriginalPrompt,
		&workflow.Summary,
		&stepsJSON,
		&paramsJSON,
		&workflow.SuccessRate,
		&workflow.SuccessCount,
		&workflow.TotalCount,
		&workflow.Rating,
		&workflow.IsTemplate,
		&workflow.CreatedTs,
		&workflow.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan workflow")
	}

	if keywords != "" {
		workflow.Keywords = strings.Split(keywords, ",")
	}
	if err := unmarshalJSON(stepsJSON, &workflow.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(paramsJSON, &workflow.Parameters); err != nil {
		return nil, err
	}

	return &workflow, nil
}
