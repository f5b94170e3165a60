// Package purchase は購入のライフサイクル管理を提供する。
// 決済イベントによる状態遷移と受講登録の照合、Checkout Sessionの作成を含む。
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/edumarket/internal/metrics"
	"github.com/hitoshi/edumarket/internal/model"
	"github.com/hitoshi/edumarket/internal/repository"
)

// CorrelationResolver は決済試行IDを内部の購入IDに解決するインターフェース。
type CorrelationResolver interface {
	Resolve(ctx context.Context, paymentIntentID string) (string, error)
}

// Reconciler は決済イベントを購入の状態遷移と受講登録に反映する。
//
// 状態遷移は pending → completed / pending → failed のみで、先に確定した終端状態が優先される。
// 確定済みの状態と矛盾するイベントは異常として記録し、変更せずに受理する。
// 受講登録と状態遷移はストア側で1トランザクションとして行われるため、
// 同じイベントの再配信や並行配信でも受講者集合に重複は生じない。
type Reconciler struct {
	purchases repository.PurchaseRepository
	users     repository.UserRepository
	courses   repository.CourseRepository
	resolver  CorrelationResolver
	metrics   metrics.MetricsCollector
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(
	purchases repository.PurchaseRepository,
	users repository.UserRepository,
	courses repository.CourseRepository,
	resolver CorrelationResolver,
	m metrics.MetricsCollector,
) *Reconciler {
	return &Reconciler{
		purchases: purchases,
		users:     users,
		courses:   courses,
		resolver:  resolver,
		metrics:   m,
	}
}

// Resolve は決済試行IDに対応する購入IDを返す。
func (r *Reconciler) Resolve(ctx context.Context, paymentIntentID string) (string, error) {
	return r.resolver.Resolve(ctx, paymentIntentID)
}

// ApplySuccess は決済成功を購入に反映する。
//  1. 購入を取得する（なければPURCHASE_NOT_FOUND）
//  2. 購入者と講座の存在を確認する（なければREFERENCE_NOT_FOUND、再送対象）
//  3. 受講登録と pending → completed をストアの1トランザクションで行う
//
// completed済みの購入に対しては受講登録を冪等に再適用し、エラーを返さない。
// failed済みの購入にはTransitionConflictを返し、何も変更しない。
func (r *Reconciler) ApplySuccess(ctx context.Context, purchaseID string) (model.TransitionResult, error) {
	p, err := r.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return 0, fmt.Errorf("購入の取得に失敗しました: %w", err)
	}
	if p == nil {
		return 0, model.NewPurchaseNotFoundError(purchaseID)
	}
	if p.Status == model.PurchaseStatusFailed {
		return model.TransitionConflict, nil
	}

	buyer, err := r.users.FindByID(ctx, p.UserID)
	if err != nil {
		return 0, fmt.Errorf("購入者の取得に失敗しました: %w", err)
	}
	if buyer == nil {
		return 0, model.NewReferenceNotFoundError("ユーザー", p.UserID)
	}
	course, err := r.courses.FindByID(ctx, p.CourseID)
	if err != nil {
		return 0, fmt.Errorf("講座の取得に失敗しました: %w", err)
	}
	if course == nil {
		return 0, model.NewReferenceNotFoundError("講座", p.CourseID)
	}

	result, err := r.purchases.CompleteWithEnrollment(ctx, purchaseID)
	if err != nil {
		return 0, mapStoreError(err, purchaseID)
	}
	return result, nil
}

// ApplyFailure は決済失敗を購入に反映する。参照先の解決は行わない。
// failed済みならTransitionAlreadyApplied、completed済みならTransitionConflictを返す。
func (r *Reconciler) ApplyFailure(ctx context.Context, purchaseID string) (model.TransitionResult, error) {
	result, err := r.purchases.MarkFailed(ctx, purchaseID)
	if err != nil {
		return 0, mapStoreError(err, purchaseID)
	}
	return result, nil
}

// mapStoreError はリポジトリのセンチネルエラーをAPIエラーに変換する。
func mapStoreError(err error, purchaseID string) error {
	var refErr *repository.MissingReferenceError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.NewPurchaseNotFoundError(purchaseID)
	case errors.As(err, &refErr):
		kind := "ユーザー"
		if refErr.Kind == "course" {
			kind = "講座"
		}
		return model.NewReferenceNotFoundError(kind, refErr.ID)
	default:
		return fmt.Errorf("購入の状態更新に失敗しました: %w", err)
	}
}

// Handle は署名検証済みの決済イベントを処理する。
// payment_intent.succeeded と payment_intent.payment_failed 以外は受理して無視する。
func (r *Reconciler) Handle(ctx context.Context, ev model.PaymentEvent) (model.Ack, error) {
	var apply func(context.Context, string) (model.TransitionResult, error)
	switch ev.Type {
	case model.PaymentIntentSucceeded:
		apply = r.ApplySuccess
	case model.PaymentIntentFailed:
		apply = r.ApplyFailure
	default:
		r.metrics.RecordReconcile(string(ev.Type), model.OutcomeIgnored)
		return model.Ack{Outcome: model.OutcomeIgnored}, nil
	}

	purchaseID, err := r.Resolve(ctx, ev.PaymentIntentID)
	if err != nil {
		r.metrics.RecordReconcile(string(ev.Type), "error")
		return model.Ack{}, err
	}

	result, err := apply(ctx, purchaseID)
	if err != nil {
		r.metrics.RecordReconcile(string(ev.Type), "error")
		slog.Error("決済イベントの反映に失敗しました",
			slog.String("event_id", ev.ID),
			slog.String("event_type", string(ev.Type)),
			slog.String("purchase_id", purchaseID),
			slog.String("error", err.Error()),
		)
		return model.Ack{}, err
	}

	ack := model.Ack{Outcome: outcomeOf(result)}
	switch result {
	case model.TransitionConflict:
		r.metrics.RecordAnomaly(string(ev.Type))
		ack.Message = "purchase already reached a conflicting terminal state"
		slog.Warn("確定済みの購入と矛盾する決済イベントを受信しました",
			slog.String("event_id", ev.ID),
			slog.String("event_type", string(ev.Type)),
			slog.String("payment_intent_id", ev.PaymentIntentID),
			slog.String("purchase_id", purchaseID),
		)
	case model.TransitionApplied:
		slog.Info("購入の状態を更新しました",
			slog.String("event_type", string(ev.Type)),
			slog.String("purchase_id", purchaseID),
		)
	}
	r.metrics.RecordReconcile(string(ev.Type), ack.Outcome)
	return ack, nil
}

func outcomeOf(result model.TransitionResult) string {
	switch result {
	case model.TransitionApplied:
		return model.OutcomeApplied
	case model.TransitionConflict:
		return model.OutcomeAnomaly
	default:
		return model.OutcomeNoop
	}
}
