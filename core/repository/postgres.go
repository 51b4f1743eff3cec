package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mediaGen/core/apperr"
	"mediaGen/core/models"
)

var taskColumns = []string{
	"id", "user_id", "source", "prompt", "translated_prompt", "model_id",
	"status", "error_message", "deleted", "created_at", "updated_at",
}

var artifactColumns = []string{
	"id", "task_id", "role", "file_name", "mime_type", "storage_kind",
	"inline_data", "object_uri", "access_url", "access_url_updated_at",
	"aspect_ratio", "deleted", "created_at", "updated_at",
}

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresRepo struct {
	db DB
}

var _ Repository = (*PostgresRepo)(nil)

func NewPostgresRepo(db DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func psql() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *PostgresRepo) CreateTask(ctx context.Context, task *models.Task) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO tasks (user_id, source, prompt, translated_prompt, model_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		task.UserID,
		task.Source,
		task.Prompt,
		task.TranslatedPrompt,
		task.ModelID,
		task.Status,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	if err := insertEvent(ctx, tx, task.ID, "", task.Status, "created"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepo) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	query, args, err := psql().Select(taskColumns...).From("tasks").
		Where(squirrel.Eq{"id": id, "deleted": false}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var task models.Task
	if err := pgxscan.Get(ctx, r.db, &task, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

func applyTaskFilter(sb squirrel.SelectBuilder, filter models.TaskFilter) squirrel.SelectBuilder {
	sb = sb.Where(squirrel.Eq{"deleted": false})
	if filter.UserID != "" {
		sb = sb.Where(squirrel.Eq{"user_id": filter.UserID})
	}
	if filter.Source != "" {
		sb = sb.Where(squirrel.Eq{"source": filter.Source})
	}
	if filter.CreatedAfter != nil {
		sb = sb.Where(squirrel.GtOrEq{"created_at": *filter.CreatedAfter})
	}
	if filter.CreatedBefore != nil {
		sb = sb.Where(squirrel.Lt{"created_at": *filter.CreatedBefore})
	}
	return sb
}

func (r *PostgresRepo) ListTasks(ctx context.Context, filter models.TaskFilter, page models.Page) ([]*models.Task, int, error) {
	countSQL, countArgs, err := applyTaskFilter(psql().Select("COUNT(*)").From("tasks"), filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("building count query: %w", err)
	}
	var total int
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	listSQL, listArgs, err := applyTaskFilter(psql().Select(taskColumns...).From("tasks"), filter).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(page.Size)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("building list query: %w", err)
	}

	var tasks []*models.Task
	if err := pgxscan.Select(ctx, r.db, &tasks, listSQL, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, total, nil
}

func (r *PostgresRepo) TransitionStatus(
	ctx context.Context,
	id int64,
	allowedFrom []models.TaskStatus,
	to models.TaskStatus,
	errMsg *string,
	reason string,
) (models.TaskStatus, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockStatus(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if !statusAllowed(current, allowedFrom) {
		return current, &apperr.InvalidTransitionError{TaskID: id, From: string(current), To: string(to)}
	}

	_, err = tx.Exec(ctx,
		`UPDATE tasks SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`,
		to, errMsg, id,
	)
	if err != nil {
		return current, fmt.Errorf("update status: %w", err)
	}
	if err := insertEvent(ctx, tx, id, current, to, reason); err != nil {
		return current, err
	}
	if err := tx.Commit(ctx); err != nil {
		return current, fmt.Errorf("commit: %w", err)
	}
	return current, nil
}

func lockStatus(ctx context.Context, tx pgx.Tx, id int64) (models.TaskStatus, error) {
	var current models.TaskStatus
	err := tx.QueryRow(ctx,
		`SELECT status FROM tasks WHERE id = $1 AND deleted = FALSE FOR UPDATE`, id,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrTaskNotFound
		}
		return "", fmt.Errorf("lock task: %w", err)
	}
	return current, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, taskID int64, from, to models.TaskStatus, reason string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO task_events (task_id, from_status, to_status, reason) VALUES ($1, $2, $3, $4)`,
		taskID, from, to, reason,
	)
	if err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

const insertArtifactSQL = `
	INSERT INTO artifacts (task_id, role, file_name, mime_type, storage_kind, inline_data, object_uri, access_url, aspect_ratio)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id, created_at, updated_at
`

func insertArtifacts(ctx context.Context, tx pgx.Tx, artifacts []*models.Artifact) error {
	for _, a := range artifacts {
		err := tx.QueryRow(ctx, insertArtifactSQL,
			a.TaskID,
			a.Role,
			a.FileName,
			a.MIMEType,
			a.StorageKind,
			a.InlineData,
			a.ObjectURI,
			a.AccessURL,
			a.AspectRatio,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert artifact %q: %w", a.FileName, err)
		}
	}
	return nil
}

func (r *PostgresRepo) CreateArtifacts(ctx context.Context, artifacts []*models.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertArtifacts(ctx, tx, artifacts); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepo) CompleteTask(ctx context.Context, id int64, outputs []*models.Artifact) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if current != models.StatusProcessing {
		return &apperr.InvalidTransitionError{TaskID: id, From: string(current), To: string(models.StatusCompleted)}
	}

	if err := insertArtifacts(ctx, tx, outputs); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE tasks SET status = $1, error_message = NULL, updated_at = NOW() WHERE id = $2`,
		models.StatusCompleted, id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := insertEvent(ctx, tx, id, current, models.StatusCompleted, "outputs recorded"); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListArtifacts(ctx context.Context, taskIDs []int64, role *models.ArtifactRole) ([]*models.Artifact, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	sb := psql().Select(artifactColumns...).From("artifacts").
		Where(squirrel.Eq{"task_id": taskIDs, "deleted": false})
	if role != nil {
		sb = sb.Where(squirrel.Eq{"role": *role})
	}
	query, args, err := sb.OrderBy("task_id", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var artifacts []*models.Artifact
	if err := pgxscan.Select(ctx, r.db, &artifacts, query, args...); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return artifacts, nil
}

// UpdateAccessURLs issues a single
//
//	UPDATE artifacts SET access_url = CASE id WHEN .. THEN .. END ... WHERE id = ANY(..)
//
// so a page of refreshed URLs costs one round trip.
func (r *PostgresRepo) UpdateAccessURLs(ctx context.Context, urls map[int64]string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	query, args := buildAccessURLUpdate(urls)
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update access urls: %w", err)
	}
	return tag.RowsAffected(), nil
}

func buildAccessURLUpdate(urls map[int64]string) (string, []any) {
	ids := make([]int64, 0, len(urls))
	for id := range urls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	args := make([]any, 0, len(ids)*2+1)
	b.WriteString("UPDATE artifacts SET access_url = CASE id")
	for _, id := range ids {
		args = append(args, id, urls[id])
		fmt.Fprintf(&b, " WHEN $%d::bigint THEN $%d", len(args)-1, len(args))
	}
	args = append(args, ids)
	fmt.Fprintf(&b, " END, access_url_updated_at = NOW(), updated_at = NOW() WHERE id = ANY($%d)", len(args))
	return b.String(), args
}

func (r *PostgresRepo) ListEvents(ctx context.Context, taskID int64) ([]models.TaskEvent, error) {
	query, args, err := psql().Select("task_id", "from_status", "to_status", "reason", "created_at").
		From("task_events").
		Where(squirrel.Eq{"task_id": taskID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var events []models.TaskEvent
	if err := pgxscan.Select(ctx, r.db, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
