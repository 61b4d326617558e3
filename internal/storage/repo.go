package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

var settingsColumns = []string{"id", "api_key", "temp", "model", "max_tokens", "created_at", "updated_at"}

func (s *Store) GetSettings(ctx context.Context, id int64) (Settings, error) {
	q := s.sql.Select(settingsColumns...).
		From("settings").
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Settings{}, fmt.Errorf("build get settings query: %w", err)
	}

	var out Settings
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&out.ID,
		&out.APIKey,
		&out.Temp,
		&out.Model,
		&out.MaxTokens,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Settings{}, ErrNotFound
		}
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return out, nil
}

// AddSettings inserts a new row and returns its key. A zero ID lets the
// database assign one.
func (s *Store) AddSettings(ctx context.Context, in Settings) (int64, error) {
	columns := []string{"api_key", "temp", "model", "max_tokens"}
	values := []any{in.APIKey, in.Temp, in.Model, in.MaxTokens}
	if in.ID != 0 {
		columns = append([]string{"id"}, columns...)
		values = append([]any{in.ID}, values...)
	}

	q := s.sql.Insert("settings").
		Columns(columns...).
		Values(values...).
		Suffix("RETURNING id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build add settings query: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("add settings: %w", err)
	}
	return id, nil
}

// UpdateSettings overwrites the non-nil patch fields of an existing row.
func (s *Store) UpdateSettings(ctx context.Context, id int64, patch SettingsPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	q := s.sql.Update("settings").
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"id": id})
	if patch.APIKey != nil {
		q = q.Set("api_key", *patch.APIKey)
	}
	if patch.Temp != nil {
		q = q.Set("temp", *patch.Temp)
	}
	if patch.Model != nil {
		q = q.Set("model", *patch.Model)
	}
	if patch.MaxTokens != nil {
		q = q.Set("max_tokens", *patch.MaxTokens)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update settings query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
