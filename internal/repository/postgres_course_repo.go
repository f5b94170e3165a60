package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/edumarket/internal/model"
)

// PostgresCourseRepo はPostgreSQLを使用した講座リポジトリ。
// 章・講義と評価はJSONB、受講者集合はTEXT[]で保持する。
type PostgresCourseRepo struct {
	db *sql.DB
}

// NewPostgresCourseRepo はPostgresCourseRepoを生成する。
func NewPostgresCourseRepo(db *sql.DB) *PostgresCourseRepo {
	return &PostgresCourseRepo{db: db}
}

const courseColumns = `c.id, c.title, c.description, c.price, c.discount, c.thumbnail, c.educator_id,
	c.content, c.is_published, c.enrolled_students, c.ratings, c.created_at, c.updated_at`

const educatorColumns = `COALESCE(u.id, ''), COALESCE(u.name, ''), COALESCE(u.image_url, '')`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCourse はcourseColumnsの順で1行を読み取り、JSONB列をデコードする。
// extraには結合列の格納先を渡す。
func scanCourse(s rowScanner, extra ...any) (*model.Course, error) {
	c := &model.Course{}
	var content, ratings []byte

	dest := []any{
		&c.ID, &c.Title, &c.Description, &c.Price, &c.Discount, &c.Thumbnail, &c.EducatorID,
		&content, &c.IsPublished, pq.Array(&c.EnrolledStudents), &ratings, &c.CreatedAt, &c.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(content, &c.Content); err != nil {
		return nil, fmt.Errorf("failed to decode course content %s: %w", c.ID, err)
	}
	if err := json.Unmarshal(ratings, &c.Ratings); err != nil {
		return nil, fmt.Errorf("failed to decode course ratings %s: %w", c.ID, err)
	}
	return c, nil
}

func scanCourseWithEducator(s rowScanner) (*model.CourseWithEducator, error) {
	var edu model.UserSummary
	c, err := scanCourse(s, &edu.ID, &edu.Name, &edu.ImageURL)
	if err != nil {
		return nil, err
	}
	if edu.ID == "" {
		edu.ID = c.EducatorID
	}
	return &model.CourseWithEducator{Course: *c, Educator: edu}, nil
}

// FindByID は指定IDの講座を取得する。見つからない場合はnilを返す。
func (r *PostgresCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses c WHERE c.id = $1`, id)

	c, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find course by ID: %w", err)
	}
	return c, nil
}

// FindWithEducator は講座を講師プロフィールと結合して取得する。見つからない場合はnilを返す。
func (r *PostgresCourseRepo) FindWithEducator(ctx context.Context, id string) (*model.CourseWithEducator, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+`, `+educatorColumns+`
		 FROM courses c LEFT JOIN users u ON u.id = c.educator_id
		 WHERE c.id = $1`, id)

	c, err := scanCourseWithEducator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find course with educator: %w", err)
	}
	return c, nil
}

// ListPublished は公開中の講座を講師プロフィールと結合して新しい順に返す。
func (r *PostgresCourseRepo) ListPublished(ctx context.Context) ([]model.CourseWithEducator, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+courseColumns+`, `+educatorColumns+`
		 FROM courses c LEFT JOIN users u ON u.id = c.educator_id
		 WHERE c.is_published = TRUE
		 ORDER BY c.created_at DESC, c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list published courses: %w", err)
	}
	defer rows.Close()

	var courses []model.CourseWithEducator
	for rows.Next() {
		c, err := scanCourseWithEducator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}
	return courses, nil
}

// ListByEducator は講師が所有する講座を新しい順に返す。
func (r *PostgresCourseRepo) ListByEducator(ctx context.Context, educatorID string) ([]*model.Course, error) {
	return r.list(ctx,
		`SELECT `+courseColumns+` FROM courses c WHERE c.educator_id = $1 ORDER BY c.created_at DESC, c.id`,
		educatorID)
}

// ListByIDs は指定IDの講座を返す。存在しないIDは無視する。
func (r *PostgresCourseRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.Course, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx,
		`SELECT `+courseColumns+` FROM courses c WHERE c.id = ANY($1) ORDER BY c.created_at DESC, c.id`,
		pq.Array(ids))
}

func (r *PostgresCourseRepo) list(ctx context.Context, query string, args ...any) ([]*model.Course, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	var courses []*model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}
	return courses, nil
}

// Create は講座を作成する。
func (r *PostgresCourseRepo) Create(ctx context.Context, course *model.Course) error {
	content, err := json.Marshal(nonNil(course.Content))
	if err != nil {
		return fmt.Errorf("failed to encode course content: %w", err)
	}
	ratings, err := json.Marshal(nonNil(course.Ratings))
	if err != nil {
		return fmt.Errorf("failed to encode course ratings: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO courses (id, title, description, price, discount, thumbnail, educator_id,
		                      content, is_published, enrolled_students, ratings)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		course.ID, course.Title, course.Description, course.Price, course.Discount,
		course.Thumbnail, course.EducatorID, content, course.IsPublished,
		pq.Array(nonNil(course.EnrolledStudents)), ratings,
	).Scan(&course.CreatedAt, &course.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert course: %w", err)
	}
	return nil
}

// UpsertRating はユーザー1人につき1件の評価を追加または置換する。
// 既存評価を除いた配列に新しい評価を連結する1文で行うため、同時実行でも重複しない。
func (r *PostgresCourseRepo) UpsertRating(ctx context.Context, courseID string, rating model.CourseRating) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE courses SET
		     ratings = (
		         SELECT COALESCE(jsonb_agg(e), '[]'::jsonb)
		         FROM jsonb_array_elements(ratings) e
		         WHERE e->>'user_id' <> $2
		     ) || jsonb_build_array(jsonb_build_object('user_id', $2::text, 'rating', $3::int)),
		     updated_at = now()
		 WHERE id = $1`,
		courseID, rating.UserID, rating.Rating,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert course rating: %w", err)
	}
	return requireAffected(result, "course", courseID)
}

// nonNil はnilスライスを空スライスに置き換える。JSONBとTEXT[]のNOT NULL列に合わせる。
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// compile-time interface check
var _ CourseRepository = (*PostgresCourseRepo)(nil)
