package purchase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/edumarket/internal/model"
	"github.com/hitoshi/edumarket/internal/payment"
	"github.com/hitoshi/edumarket/internal/repository"
)

// SessionCreator は決済ページ（Checkout Session）を作成するインターフェース。
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (string, error)
}

// CheckoutService は講座購入の開始を扱う。
type CheckoutService struct {
	purchases repository.PurchaseRepository
	users     repository.UserRepository
	courses   repository.CourseRepository
	sessions  SessionCreator
	newID     func() string
}

// NewCheckoutService はCheckoutServiceを生成する。
func NewCheckoutService(
	purchases repository.PurchaseRepository,
	users repository.UserRepository,
	courses repository.CourseRepository,
	sessions SessionCreator,
) *CheckoutService {
	return &CheckoutService{
		purchases: purchases,
		users:     users,
		courses:   courses,
		sessions:  sessions,
		newID:     func() string { return uuid.New().String() },
	}
}

// Checkout はpending状態の購入を作成し、購入IDをmetadataに持つ決済ページのURLを返す。
// 非公開または存在しない講座はCOURSE_NOT_FOUND、受講済みの場合はALREADY_ENROLLEDを返す。
func (s *CheckoutService) Checkout(ctx context.Context, userID, courseID, origin string) (string, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return "", fmt.Errorf("講座の取得に失敗しました: %w", err)
	}
	if course == nil || !course.IsPublished {
		return "", model.NewCourseNotFoundError(courseID)
	}

	buyer, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if buyer == nil {
		return "", model.NewUserNotFoundError()
	}
	if buyer.IsEnrolledIn(courseID) {
		return "", model.NewAlreadyEnrolledError()
	}

	p := &model.Purchase{
		ID:       s.newID(),
		UserID:   userID,
		CourseID: courseID,
		Amount:   course.DiscountedPrice(),
		Status:   model.PurchaseStatusPending,
	}
	if err := s.purchases.Create(ctx, p); err != nil {
		return "", fmt.Errorf("購入の作成に失敗しました: %w", err)
	}

	url, err := s.sessions.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		PurchaseID:  p.ID,
		CourseTitle: course.Title,
		Amount:      p.Amount,
		Origin:      origin,
	})
	if err != nil {
		// 決済ページが作られなかった購入はpendingのまま残り、イベントが届くことはない
		slog.Error("Checkout Sessionの作成に失敗しました",
			slog.String("purchase_id", p.ID),
			slog.String("course_id", courseID),
			slog.String("error", err.Error()),
		)
		return "", model.NewPaymentProviderUnavailableError(err.Error())
	}

	slog.Info("購入を開始しました",
		slog.String("purchase_id", p.ID),
		slog.String("user_id", userID),
		slog.String("course_id", courseID),
		slog.String("amount", p.Amount.StringFixed(2)),
	)
	return url, nil
}
