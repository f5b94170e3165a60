// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/edumarket/internal/model"
)

var (
	// ErrDuplicateKey は主キーまたは一意制約に違反した場合に返る。
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound は更新・削除対象のレコードが存在しない場合に返る。
	ErrNotFound = errors.New("record not found")
	// ErrReferenceNotFound は購入が参照するユーザーまたは講座が存在しない場合に返る。
	ErrReferenceNotFound = errors.New("referenced record not found")
)

// MissingReferenceError は参照切れになっているレコードの種別とIDを保持する。
// errors.Is(err, ErrReferenceNotFound) で判定できる。
type MissingReferenceError struct {
	Kind string // "user" または "course"
	ID   string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, ErrReferenceNotFound)
}

func (e *MissingReferenceError) Unwrap() error { return ErrReferenceNotFound }

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindSummariesByIDs は指定IDのユーザーの公開プロフィールをIDをキーに返す。
	// 存在しないIDは結果に含まれない。
	FindSummariesByIDs(ctx context.Context, ids []string) (map[string]model.UserSummary, error)

	// Create はユーザーを作成する。同一IDが存在する場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はプロフィール項目を上書きする。存在しない場合はErrNotFoundを返す。
	UpdateProfile(ctx context.Context, id string, profile model.UserProfile) error

	// DeleteByID は指定IDのユーザーを削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// CourseRepository は講座データの永続化インターフェース。
type CourseRepository interface {
	// FindByID は指定IDの講座を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Course, error)

	// FindWithEducator は講座を講師プロフィールと結合して取得する。見つからない場合はnilを返す。
	FindWithEducator(ctx context.Context, id string) (*model.CourseWithEducator, error)

	// ListPublished は公開中の講座を講師プロフィールと結合して新しい順に返す。
	ListPublished(ctx context.Context) ([]model.CourseWithEducator, error)

	// ListByEducator は講師が所有する講座を新しい順に返す。
	ListByEducator(ctx context.Context, educatorID string) ([]*model.Course, error)

	// ListByIDs は指定IDの講座を返す。存在しないIDは無視する。
	ListByIDs(ctx context.Context, ids []string) ([]*model.Course, error)

	// Create は講座を作成する。
	Create(ctx context.Context, course *model.Course) error

	// UpsertRating はユーザー1人につき1件の評価を追加または置換する。
	// 講座が存在しない場合はErrNotFoundを返す。
	UpsertRating(ctx context.Context, courseID string, rating model.CourseRating) error
}

// PurchaseRepository は購入データの永続化と状態遷移のインターフェース。
// 状態遷移はすべてストア側の原子的な操作として提供し、呼び出し側で読み取り→書き込みを行わない。
type PurchaseRepository interface {
	// Create はpending状態の購入を作成する。
	Create(ctx context.Context, purchase *model.Purchase) error

	// FindByID は指定IDの購入を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Purchase, error)

	// CompleteWithEnrollment は単一トランザクション内で購入行をロックし、
	// 参照先の存在を再確認したうえで受講登録（双方向の集合追加）と
	// pending → completed のCASを行う。
	// completed済みの購入に対しては受講登録のみ冪等に再適用しTransitionAlreadyAppliedを返す。
	// failed済みの購入には何もせずTransitionConflictを返す。
	// 購入が存在しない場合はErrNotFound、参照切れの場合は*MissingReferenceErrorを返す。
	CompleteWithEnrollment(ctx context.Context, purchaseID string) (model.TransitionResult, error)

	// MarkFailed は pending → failed のCASを行う。
	// failed済みならTransitionAlreadyApplied、completed済みならTransitionConflictを返す。
	MarkFailed(ctx context.Context, purchaseID string) (model.TransitionResult, error)

	// SumCompletedAmountByEducator は講師の講座に対するcompleted購入の金額合計を返す。
	SumCompletedAmountByEducator(ctx context.Context, educatorID string) (decimal.Decimal, error)

	// ListCompletedByEducator は講師の講座に対するcompleted購入を
	// 購入者・講座タイトルと結合し、購入日時の昇順で返す。
	ListCompletedByEducator(ctx context.Context, educatorID string) ([]model.EnrolledStudent, error)

	// ListEnrollmentDrift は受講登録の片側または両側が欠けているcompleted購入を最大limit件返す。
	// 参照先が削除済みの購入は対象外。
	ListEnrollmentDrift(ctx context.Context, limit int) ([]*model.Purchase, error)
}

// WebhookEventRepository はWebhook受信の監査ログを記録する。
// 重複排除の判定には使用しない。
type WebhookEventRepository interface {
	// Record は受信イベントを記録する。同一イベントの再配信は配信回数と最終受信日時を更新する。
	Record(ctx context.Context, provider, eventID, eventType, outcome string) error

	// DeleteSeenBefore は最終受信日時がbeforeより古い監査ログを削除し、削除件数を返す。
	DeleteSeenBefore(ctx context.Context, before time.Time) (int64, error)
}
