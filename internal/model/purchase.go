package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus は購入の決済状態を表す。
type PurchaseStatus string

const (
	// PurchaseStatusPending は決済待ちの初期状態。
	PurchaseStatusPending PurchaseStatus = "pending"
	// PurchaseStatusCompleted は決済成功の終端状態。
	PurchaseStatusCompleted PurchaseStatus = "completed"
	// PurchaseStatusFailed は決済失敗の終端状態。
	PurchaseStatusFailed PurchaseStatus = "failed"
)

// IsTerminal は状態が終端状態かどうかを返す。
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusFailed
}

// CanTransitionTo はsからnextへの遷移が有効かを返す。
// 有効な遷移は pending → completed と pending → failed のみ。
func (s PurchaseStatus) CanTransitionTo(next PurchaseStatus) bool {
	return s == PurchaseStatusPending && next.IsTerminal()
}

// Purchase は受講者1人による講座1件の購入と、その決済結果を表す。
type Purchase struct {
	ID        string
	UserID    string
	CourseID  string
	Amount    decimal.Decimal
	Status    PurchaseStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransitionResult は状態遷移要求の結果を表す。
type TransitionResult int

const (
	// TransitionApplied は pending から終端状態への遷移が行われたことを示す。
	TransitionApplied TransitionResult = iota
	// TransitionAlreadyApplied は既に要求と同じ終端状態だったことを示す。
	// 受講登録は冪等に再適用される。
	TransitionAlreadyApplied
	// TransitionConflict は別の終端状態に確定済みで、遷移を拒否したことを示す。
	TransitionConflict
)

// String はログ出力用の文字列表現を返す。
func (r TransitionResult) String() string {
	switch r {
	case TransitionApplied:
		return "applied"
	case TransitionAlreadyApplied:
		return "already_applied"
	case TransitionConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// EnrolledStudent は講師ダッシュボードの受講者1行分を表す。
type EnrolledStudent struct {
	CourseTitle  string
	Student      UserSummary
	PurchaseDate time.Time
}

// DashboardData は講師ダッシュボードの集計値を表す。
type DashboardData struct {
	TotalCourses     int
	TotalEarnings    decimal.Decimal
	EnrolledStudents []EnrolledStudent
}
