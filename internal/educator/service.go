// Package educator は講師向けの講座管理とダッシュボード集計を提供する。
package educator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/edumarket/internal/model"
	"github.com/hitoshi/edumarket/internal/repository"
	"github.com/hitoshi/edumarket/internal/security"
)

// RoleGranter はIdP上のユーザーに講師ロールを付与するインターフェース。
type RoleGranter interface {
	GrantEducatorRole(ctx context.Context, userID string) error
}

// Service は講師向け機能のサービス層。
type Service struct {
	courseRepo   repository.CourseRepository
	userRepo     repository.UserRepository
	purchaseRepo repository.PurchaseRepository
	roles        RoleGranter
	sanitizer    security.HTMLSanitizer
	urls         security.MediaURLValidator
	newID        func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	courseRepo repository.CourseRepository,
	userRepo repository.UserRepository,
	purchaseRepo repository.PurchaseRepository,
	roles RoleGranter,
	sanitizer security.HTMLSanitizer,
	urls security.MediaURLValidator,
) *Service {
	return &Service{
		courseRepo:   courseRepo,
		userRepo:     userRepo,
		purchaseRepo: purchaseRepo,
		roles:        roles,
		sanitizer:    sanitizer,
		urls:         urls,
		newID:        func() string { return uuid.New().String() },
	}
}

// UpdateRole はユーザーを講師に昇格する。既に講師の場合も成功する。
func (s *Service) UpdateRole(ctx context.Context, userID string) error {
	if err := s.roles.GrantEducatorRole(ctx, userID); err != nil {
		return fmt.Errorf("講師ロールの付与に失敗しました: %w", err)
	}
	slog.Info("講師ロールを付与しました",
		slog.String("user_id", userID),
	)
	return nil
}

// Courses は講師が所有する講座を新しい順に返す。
func (s *Service) Courses(ctx context.Context, educatorID string) ([]*model.Course, error) {
	courses, err := s.courseRepo.ListByEducator(ctx, educatorID)
	if err != nil {
		return nil, fmt.Errorf("講座一覧の取得に失敗しました: %w", err)
	}
	return courses, nil
}

// Dashboard は講座数、completed購入の売上合計、講座ごとの受講者を集計する。
// 受講者は講座の受講者集合から (講座, 受講者) の組を重複なく列挙する。
// 削除済みのユーザーは含めない。
func (s *Service) Dashboard(ctx context.Context, educatorID string) (*model.DashboardData, error) {
	courses, err := s.Courses(ctx, educatorID)
	if err != nil {
		return nil, err
	}

	earnings, err := s.purchaseRepo.SumCompletedAmountByEducator(ctx, educatorID)
	if err != nil {
		return nil, fmt.Errorf("売上の集計に失敗しました: %w", err)
	}

	var studentIDs []string
	seenStudent := make(map[string]struct{})
	for _, c := range courses {
		for _, id := range c.EnrolledStudents {
			if _, ok := seenStudent[id]; !ok {
				seenStudent[id] = struct{}{}
				studentIDs = append(studentIDs, id)
			}
		}
	}

	summaries := map[string]model.UserSummary{}
	if len(studentIDs) > 0 {
		summaries, err = s.userRepo.FindSummariesByIDs(ctx, studentIDs)
		if err != nil {
			return nil, fmt.Errorf("受講者の取得に失敗しました: %w", err)
		}
	}

	type pair struct{ courseID, studentID string }
	seenPair := make(map[pair]struct{})
	enrolled := make([]model.EnrolledStudent, 0)
	for _, c := range courses {
		for _, id := range c.EnrolledStudents {
			p := pair{c.ID, id}
			if _, ok := seenPair[p]; ok {
				continue
			}
			seenPair[p] = struct{}{}

			student, ok := summaries[id]
			if !ok {
				continue
			}
			enrolled = append(enrolled, model.EnrolledStudent{CourseTitle: c.Title, Student: student})
		}
	}

	return &model.DashboardData{
		TotalCourses:     len(courses),
		TotalEarnings:    earnings,
		EnrolledStudents: enrolled,
	}, nil
}

// EnrolledStudents はcompleted購入1件につき1行を、購入日時の昇順で返す。
func (s *Service) EnrolledStudents(ctx context.Context, educatorID string) ([]model.EnrolledStudent, error) {
	rows, err := s.purchaseRepo.ListCompletedByEducator(ctx, educatorID)
	if err != nil {
		return nil, fmt.Errorf("受講者一覧の取得に失敗しました: %w", err)
	}
	return rows, nil
}

// CourseInput は講座作成の入力。
type CourseInput struct {
	Title       string
	Description string
	Price       decimal.Decimal
	Discount    int
	Thumbnail   string
	Content     []model.Chapter
	IsPublished bool
}

// AddCourse は講座を検証して作成する。説明はサニタイズしてから保存し、
// 章と講義のIDが未指定の場合は採番する。
func (s *Service) AddCourse(ctx context.Context, educatorID string, in CourseInput) (*model.Course, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	c := &model.Course{
		ID:          s.newID(),
		Title:       strings.TrimSpace(in.Title),
		Description: s.sanitizer.Sanitize(in.Description),
		Price:       in.Price.Round(2),
		Discount:    in.Discount,
		Thumbnail:   in.Thumbnail,
		EducatorID:  educatorID,
		Content:     s.assignIDs(in.Content),
		IsPublished: in.IsPublished,
	}
	if err := s.courseRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("講座の作成に失敗しました: %w", err)
	}

	slog.Info("講座を作成しました",
		slog.String("course_id", c.ID),
		slog.String("educator_id", educatorID),
	)
	return c, nil
}

func (s *Service) validate(in CourseInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return model.NewInvalidCourseError("title is required")
	}
	if in.Price.IsNegative() {
		return model.NewInvalidCourseError("price must not be negative")
	}
	if in.Discount < 0 || in.Discount > 100 {
		return model.NewInvalidCourseError("discount must be between 0 and 100")
	}
	if in.Thumbnail != "" {
		if err := s.urls.ValidateURL(in.Thumbnail); err != nil {
			return model.NewInvalidCourseError(fmt.Sprintf("thumbnail: %v", err))
		}
	}
	for _, ch := range in.Content {
		if strings.TrimSpace(ch.Title) == "" {
			return model.NewInvalidCourseError("chapter title is required")
		}
		for _, l := range ch.Lectures {
			if l.Duration < 0 {
				return model.NewInvalidCourseError("lecture duration must not be negative")
			}
			if err := s.urls.ValidateURL(l.URL); err != nil {
				return model.NewInvalidCourseError(fmt.Sprintf("lecture %q url: %v", l.Title, err))
			}
		}
	}
	return nil
}

func (s *Service) assignIDs(chapters []model.Chapter) []model.Chapter {
	out := make([]model.Chapter, len(chapters))
	for i, ch := range chapters {
		if ch.ID == "" {
			ch.ID = s.newID()
		}
		lectures := make([]model.Lecture, len(ch.Lectures))
		for j, l := range ch.Lectures {
			if l.ID == "" {
				l.ID = s.newID()
			}
			lectures[j] = l
		}
		ch.Lectures = lectures
		out[i] = ch
	}
	return out
}
