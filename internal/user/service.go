// Package user はユーザー管理のドメインロジックを提供する。
// IdPイベントによるユーザーの作成・更新・削除と、受講者向けの参照・評価を扱う。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/edumarket/internal/model"
	"github.com/hitoshi/edumarket/internal/repository"
)

// 評価値の範囲
const (
	MinRating = 1
	MaxRating = 5
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	courseRepo repository.CourseRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, courseRepo repository.CourseRepository) *Service {
	return &Service{
		userRepo:   userRepo,
		courseRepo: courseRepo,
	}
}

// Handle は署名検証済みのIdPイベントをユーザーデータに反映する。
// 作成済みユーザーの再作成と、存在しないユーザーの更新・削除はログに記録して受理する。
// それ以外のストア障害はエラーを返し、送信元に再送させる。
func (s *Service) Handle(ctx context.Context, ev model.IdentityEvent) (model.Ack, error) {
	switch ev.Type {
	case model.IdentityUserCreated:
		return s.create(ctx, ev)
	case model.IdentityUserUpdated:
		return s.update(ctx, ev)
	case model.IdentityUserDeleted:
		return s.delete(ctx, ev)
	default:
		return model.Ack{Outcome: model.OutcomeUnhandled, Message: "Unhandled event type"}, nil
	}
}

func (s *Service) create(ctx context.Context, ev model.IdentityEvent) (model.Ack, error) {
	u := &model.User{
		ID:       ev.UserID,
		Name:     ev.Profile.Name,
		Email:    ev.Profile.Email,
		ImageURL: ev.Profile.ImageURL,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			slog.Warn("作成済みのユーザーに対する作成イベントを受信しました",
				slog.String("event_id", ev.ID),
				slog.String("user_id", ev.UserID),
			)
			return model.Ack{Outcome: model.OutcomeNoop}, nil
		}
		return model.Ack{}, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを作成しました",
		slog.String("user_id", ev.UserID),
	)
	return model.Ack{Outcome: model.OutcomeApplied}, nil
}

func (s *Service) update(ctx context.Context, ev model.IdentityEvent) (model.Ack, error) {
	if err := s.userRepo.UpdateProfile(ctx, ev.UserID, ev.Profile); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Warn("存在しないユーザーに対する更新イベントを受信しました",
				slog.String("event_id", ev.ID),
				slog.String("user_id", ev.UserID),
			)
			return model.Ack{Outcome: model.OutcomeNoop}, nil
		}
		return model.Ack{}, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	return model.Ack{Outcome: model.OutcomeApplied}, nil
}

func (s *Service) delete(ctx context.Context, ev model.IdentityEvent) (model.Ack, error) {
	if err := s.userRepo.DeleteByID(ctx, ev.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Info("削除対象のユーザーは既に存在しません",
				slog.String("user_id", ev.UserID),
			)
			return model.Ack{Outcome: model.OutcomeNoop}, nil
		}
		return model.Ack{}, fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("ユーザーを削除しました",
		slog.String("user_id", ev.UserID),
	)
	return model.Ack{Outcome: model.OutcomeApplied}, nil
}

// GetUser はログインユーザーのデータを返す。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

// EnrolledCourses はユーザーが受講中の講座を講義URLを含めて返す。
func (s *Service) EnrolledCourses(ctx context.Context, userID string) ([]*model.Course, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(u.EnrolledCourses) == 0 {
		return []*model.Course{}, nil
	}

	courses, err := s.courseRepo.ListByIDs(ctx, u.EnrolledCourses)
	if err != nil {
		return nil, fmt.Errorf("受講中の講座の取得に失敗しました: %w", err)
	}
	return courses, nil
}

// AddRating は受講中の講座に評価を登録する。同じユーザーの既存の評価は置き換える。
func (s *Service) AddRating(ctx context.Context, userID, courseID string, rating int) error {
	if rating < MinRating || rating > MaxRating {
		return model.NewInvalidRatingError(rating)
	}

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	course, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return fmt.Errorf("講座の取得に失敗しました: %w", err)
	}
	if course == nil {
		return model.NewCourseNotFoundError(courseID)
	}
	if !u.IsEnrolledIn(courseID) {
		return model.NewNotEnrolledError()
	}

	err = s.courseRepo.UpsertRating(ctx, courseID, model.CourseRating{UserID: userID, Rating: rating})
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewCourseNotFoundError(courseID)
	}
	if err != nil {
		return fmt.Errorf("評価の登録に失敗しました: %w", err)
	}
	return nil
}
