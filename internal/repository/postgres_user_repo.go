package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/edumarket/internal/database"
	"github.com/hitoshi/edumarket/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, image_url, enrolled_courses, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Name, &user.Email, &user.ImageURL,
		pq.Array(&user.EnrolledCourses), &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// FindSummariesByIDs は指定IDのユーザーの公開プロフィールをIDをキーに返す。
func (r *PostgresUserRepo) FindSummariesByIDs(ctx context.Context, ids []string) (map[string]model.UserSummary, error) {
	summaries := make(map[string]model.UserSummary, len(ids))
	if len(ids) == 0 {
		return summaries, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, image_url FROM users WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.UserSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan user summary: %w", err)
		}
		summaries[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user summaries: %w", err)
	}

	return summaries, nil
}

// Create はユーザーを作成する。同一IDが存在する場合はErrDuplicateKeyを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	enrolled := user.EnrolledCourses
	if enrolled == nil {
		enrolled = []string{}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, name, email, image_url, enrolled_courses)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		user.ID, user.Name, user.Email, user.ImageURL, pq.Array(enrolled),
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", user.ID, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateProfile はプロフィール項目を上書きする。
// フィールド単位で後勝ちとなり、マージは行わない。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, profile model.UserProfile) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, email = $3, image_url = $4, updated_at = now()
		 WHERE id = $1`,
		id, profile.Name, profile.Email, profile.ImageURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return requireAffected(result, "user", id)
}

// DeleteByID は指定IDのユーザーを削除する。
// 購入履歴と講座側の受講者集合は残す。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(result, "user", id)
}

// requireAffected は更新件数が0件の場合にErrNotFoundを返す。
func requireAffected(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
