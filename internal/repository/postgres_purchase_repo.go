package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/edumarket/internal/model"
)

// PostgresPurchaseRepo はPostgreSQLを使用した購入リポジトリ。
// 購入ごとの排他は行ロック（SELECT ... FOR UPDATE）で行う。
type PostgresPurchaseRepo struct {
	db *sql.DB
}

// NewPostgresPurchaseRepo はPostgresPurchaseRepoを生成する。
func NewPostgresPurchaseRepo(db *sql.DB) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

const purchaseColumns = `p.id, p.user_id, p.course_id, p.amount, p.status, p.created_at, p.updated_at`

func scanPurchase(s rowScanner) (*model.Purchase, error) {
	p := &model.Purchase{}
	var status string
	if err := s.Scan(&p.ID, &p.UserID, &p.CourseID, &p.Amount, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = model.PurchaseStatus(status)
	return p, nil
}

// Create はpending状態の購入を作成する。
func (r *PostgresPurchaseRepo) Create(ctx context.Context, purchase *model.Purchase) error {
	if purchase.Status == "" {
		purchase.Status = model.PurchaseStatusPending
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO purchases (id, user_id, course_id, amount, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		purchase.ID, purchase.UserID, purchase.CourseID, purchase.Amount, string(purchase.Status),
	).Scan(&purchase.CreatedAt, &purchase.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

// FindByID は指定IDの購入を取得する。見つからない場合はnilを返す。
func (r *PostgresPurchaseRepo) FindByID(ctx context.Context, id string) (*model.Purchase, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases p WHERE p.id = $1`, id)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find purchase by ID: %w", err)
	}
	return p, nil
}

// lockPurchase はトランザクション内で購入行をロックして取得する。
func lockPurchase(ctx context.Context, tx *sql.Tx, id string) (*model.Purchase, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases p WHERE p.id = $1 FOR UPDATE`, id)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("purchase %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock purchase: %w", err)
	}
	return p, nil
}

// CompleteWithEnrollment は受講登録とpending → completedの遷移を1トランザクションで行う。
func (r *PostgresPurchaseRepo) CompleteWithEnrollment(ctx context.Context, purchaseID string) (model.TransitionResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := lockPurchase(ctx, tx, purchaseID)
	if err != nil {
		return 0, err
	}
	if p.Status == model.PurchaseStatusFailed {
		return model.TransitionConflict, nil
	}

	// 集合追加はWHERE句で既存要素を除外するため、再実行しても重複しない。
	// 更新0件は「既に登録済み」か「行が存在しない」のどちらかなので存在確認で区別する。
	if err := addToSet(ctx, tx,
		`UPDATE courses SET enrolled_students = array_append(enrolled_students, $2), updated_at = now()
		 WHERE id = $1 AND NOT ($2 = ANY(enrolled_students))`,
		`SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`,
		p.CourseID, p.UserID, "course",
	); err != nil {
		return 0, err
	}
	if err := addToSet(ctx, tx,
		`UPDATE users SET enrolled_courses = array_append(enrolled_courses, $2), updated_at = now()
		 WHERE id = $1 AND NOT ($2 = ANY(enrolled_courses))`,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`,
		p.UserID, p.CourseID, "user",
	); err != nil {
		return 0, err
	}

	result := model.TransitionAlreadyApplied
	if p.Status == model.PurchaseStatusPending {
		if _, err := tx.ExecContext(ctx,
			`UPDATE purchases SET status = 'completed', updated_at = now()
			 WHERE id = $1 AND status = 'pending'`,
			purchaseID,
		); err != nil {
			return 0, fmt.Errorf("failed to complete purchase: %w", err)
		}
		result = model.TransitionApplied
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// addToSet はownerIDの配列列にmemberを冪等に追加する。
// ownerIDの行が存在しない場合は*MissingReferenceErrorを返す。
func addToSet(ctx context.Context, tx *sql.Tx, update, exists, ownerID, member, kind string) error {
	result, err := tx.ExecContext(ctx, update, ownerID, member)
	if err != nil {
		return fmt.Errorf("failed to add %s membership: %w", kind, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var found bool
	if err := tx.QueryRowContext(ctx, exists, ownerID).Scan(&found); err != nil {
		return fmt.Errorf("failed to check %s existence: %w", kind, err)
	}
	if !found {
		return &MissingReferenceError{Kind: kind, ID: ownerID}
	}
	return nil
}

// MarkFailed は pending → failed のCASを行う。
func (r *PostgresPurchaseRepo) MarkFailed(ctx context.Context, purchaseID string) (model.TransitionResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := lockPurchase(ctx, tx, purchaseID)
	if err != nil {
		return 0, err
	}

	switch p.Status {
	case model.PurchaseStatusFailed:
		return model.TransitionAlreadyApplied, nil
	case model.PurchaseStatusCompleted:
		return model.TransitionConflict, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE purchases SET status = 'failed', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		purchaseID,
	); err != nil {
		return 0, fmt.Errorf("failed to mark purchase failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return model.TransitionApplied, nil
}

// SumCompletedAmountByEducator は講師の講座に対するcompleted購入の金額合計を返す。
func (r *PostgresPurchaseRepo) SumCompletedAmountByEducator(ctx context.Context, educatorID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(p.amount), 0)
		 FROM purchases p JOIN courses c ON c.id = p.course_id
		 WHERE c.educator_id = $1 AND p.status = 'completed'`,
		educatorID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum educator earnings: %w", err)
	}
	return total, nil
}

// ListCompletedByEducator は講師の講座に対するcompleted購入を購入日時の昇順で返す。
// 購入者が削除済みの場合はプロフィールを空で返す。
func (r *PostgresPurchaseRepo) ListCompletedByEducator(ctx context.Context, educatorID string) ([]model.EnrolledStudent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.title, p.user_id, COALESCE(u.name, ''), COALESCE(u.image_url, ''), p.created_at
		 FROM purchases p
		 JOIN courses c ON c.id = p.course_id
		 LEFT JOIN users u ON u.id = p.user_id
		 WHERE c.educator_id = $1 AND p.status = 'completed'
		 ORDER BY p.created_at ASC, p.id ASC`,
		educatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed purchases: %w", err)
	}
	defer rows.Close()

	var students []model.EnrolledStudent
	for rows.Next() {
		var s model.EnrolledStudent
		if err := rows.Scan(&s.CourseTitle, &s.Student.ID, &s.Student.Name, &s.Student.ImageURL, &s.PurchaseDate); err != nil {
			return nil, fmt.Errorf("failed to scan enrolled student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrolled students: %w", err)
	}
	return students, nil
}

// ListEnrollmentDrift は受講登録の片側または両側が欠けているcompleted購入を返す。
func (r *PostgresPurchaseRepo) ListEnrollmentDrift(ctx context.Context, limit int) ([]*model.Purchase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+purchaseColumns+`
		 FROM purchases p
		 JOIN users u ON u.id = p.user_id
		 JOIN courses c ON c.id = p.course_id
		 WHERE p.status = 'completed'
		   AND (NOT (p.course_id = ANY(u.enrolled_courses)) OR NOT (p.user_id = ANY(c.enrolled_students)))
		 ORDER BY p.updated_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollment drift: %w", err)
	}
	defer rows.Close()

	var purchases []*model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}
	return purchases, nil
}

// compile-time interface check
var _ PurchaseRepository = (*PostgresPurchaseRepo)(nil)
