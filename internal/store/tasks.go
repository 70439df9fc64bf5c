package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

type taskRow struct {
	ID          string `db:"id"`
	List        string `db:"list"`
	Title       string `db:"title"`
	Body        string `db:"body"`
	DueAt       int64  `db:"due_at"`
	Completed   bool   `db:"completed"`
	CompletedAt int64  `db:"completed_at"`
	CreatedAt   int64  `db:"created_at"`
}

// item uses the due date as the timestamp, or the creation time for undated tasks.
func (r *taskRow) item() model.Item {
	return model.Item{
		Ref:        r.ID,
		Kind:       model.KindTask,
		Collection: r.List,
		Subject:    r.Title,
		Timestamp:  fromUnix(cmp.Or(r.DueAt, r.CreatedAt)),
		Preview:    model.Preview(r.Body, model.PreviewLength),
		Completed:  r.Completed,
	}
}

const insertTask = `
	INSERT INTO tasks (id, list, title, body, due_at, completed, completed_at, created_at)
	VALUES (:id, :list, :title, :body, :due_at, :completed, :completed_at, :created_at)`

func (s *Store) task(ctx context.Context, ref string) (*taskRow, error) {
	var r taskRow
	err := s.db.GetContext(ctx, &r, "SELECT * FROM tasks WHERE id = ?", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("task %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", ref, err)
	}
	return &r, nil
}

func (s *Store) taskDetail(ctx context.Context, ref string) (*model.Detail, error) {
	r, err := s.task(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &model.Detail{Item: r.item(), Body: r.Body}, nil
}

func (s *Store) mutateTask(ctx context.Context, ref string, m model.Mutation) (string, error) {
	switch m.Kind {
	case model.MutationCreate:
		if strings.TrimSpace(m.Subject) == "" {
			return "", apperr.InvalidArgument("a task needs a title")
		}
		row := taskRow{
			ID:        uuid.NewString(),
			List:      cmp.Or(m.Calendar, DefaultTaskList),
			Title:     m.Subject,
			Body:      m.Body,
			DueAt:     unix(m.Due),
			CreatedAt: unix(s.opts.Now()),
		}
		if _, err := s.db.NamedExecContext(ctx, insertTask, row); err != nil {
			return "", fmt.Errorf("creating task: %w", err)
		}
		return fmt.Sprintf("created task %q (%s)", m.Subject, row.ID), nil

	case model.MutationComplete:
		r, err := s.task(ctx, ref)
		if err != nil {
			return "", err
		}
		if r.Completed {
			return fmt.Sprintf("task %q was already complete", r.Title), nil
		}
		res, err := s.db.ExecContext(ctx, "UPDATE tasks SET completed = 1, completed_at = ? WHERE id = ?", unix(s.opts.Now()), ref)
		if err != nil {
			return "", fmt.Errorf("completing task %s: %w", ref, err)
		}
		if err := affected(res, "task", ref); err != nil {
			return "", err
		}
		return fmt.Sprintf("completed task %q", r.Title), nil

	case model.MutationUpdate:
		if !m.HasUpdate() {
			return "", apperr.InvalidArgument("nothing to update")
		}
		r, err := s.task(ctx, ref)
		if err != nil {
			return "", err
		}
		if m.Subject != "" {
			r.Title = m.Subject
		}
		if m.Body != "" {
			r.Body = m.Body
		}
		if !m.Due.IsZero() {
			r.DueAt = unix(m.Due)
		}
		res, err := s.db.NamedExecContext(ctx, "UPDATE tasks SET title = :title, body = :body, due_at = :due_at WHERE id = :id", r)
		if err != nil {
			return "", fmt.Errorf("updating task %s: %w", ref, err)
		}
		if err := affected(res, "task", ref); err != nil {
			return "", err
		}
		return fmt.Sprintf("updated task %q", r.Title), nil

	case model.MutationDelete:
		r, err := s.task(ctx, ref)
		if err != nil {
			return "", err
		}
		if _, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", ref); err != nil {
			return "", fmt.Errorf("deleting task %s: %w", ref, err)
		}
		return fmt.Sprintf("deleted task %q", r.Title), nil
	}
	return "", apperr.Unsupported("%s on tasks", m.Kind)
}
