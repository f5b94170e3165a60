package course

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/edumarket/internal/model"
	"github.com/hitoshi/edumarket/internal/security"
)

// --- モック ---

type mockCourseRepo struct {
	listPublishedFn    func(ctx context.Context) ([]model.CourseWithEducator, error)
	findWithEducatorFn func(ctx context.Context, id string) (*model.CourseWithEducator, error)
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	return nil, nil
}
func (m *mockCourseRepo) FindWithEducator(ctx context.Context, id string) (*model.CourseWithEducator, error) {
	return m.findWithEducatorFn(ctx, id)
}
func (m *mockCourseRepo) ListPublished(ctx context.Context) ([]model.CourseWithEducator, error) {
	return m.listPublishedFn(ctx)
}
func (m *mockCourseRepo) ListByEducator(ctx context.Context, educatorID string) ([]*model.Course, error) {
	return nil, nil
}
func (m *mockCourseRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.Course, error) {
	return nil, nil
}
func (m *mockCourseRepo) Create(ctx context.Context, course *model.Course) error {
	return nil
}
func (m *mockCourseRepo) UpsertRating(ctx context.Context, courseID string, rating model.CourseRating) error {
	return nil
}

func sampleCourse(id string, published bool) model.CourseWithEducator {
	return model.CourseWithEducator{
		Course: model.Course{
			ID:          id,
			Title:       "Go並行処理",
			Description: `<p>goroutine入門</p><script>alert(1)</script>`,
			EducatorID:  "edu1",
			IsPublished: published,
			Content: []model.Chapter{{
				ID:    "ch1",
				Order: 1,
				Title: "はじめに",
				Lectures: []model.Lecture{
					{ID: "l1", Title: "概要", Duration: 10, URL: "https://video.example/l1", IsPreviewFree: true, Order: 1},
					{ID: "l2", Title: "チャネル", Duration: 55, URL: "https://video.example/l2", IsPreviewFree: false, Order: 2},
				},
			}},
			EnrolledStudents: []string{"u1", "u2"},
			Ratings:          []model.CourseRating{{UserID: "u1", Rating: 5}},
		},
		Educator: model.UserSummary{ID: "edu1", Name: "Rob", ImageURL: "https://img/rob.png"},
	}
}

// --- テスト ---

func TestService_ListPublished(t *testing.T) {
	repo := &mockCourseRepo{
		listPublishedFn: func(ctx context.Context) ([]model.CourseWithEducator, error) {
			return []model.CourseWithEducator{sampleCourse("c1", true), sampleCourse("draft", false)}, nil
		},
	}
	svc := NewService(repo, security.NewDescriptionSanitizer())

	entries, err := svc.ListPublished(context.Background())
	if err != nil {
		t.Fatalf("ListPublished returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Course.ID != "c1" {
		t.Fatalf("entries = %+v, want only c1", entries)
	}

	e := entries[0]
	if e.Course.Content != nil || e.Course.EnrolledStudents != nil {
		t.Error("content and enrolled students should be stripped")
	}
	if strings.Contains(e.Course.Description, "<script") {
		t.Errorf("description was not sanitized: %q", e.Course.Description)
	}
	if e.Course.Educator.Name != "Rob" {
		t.Errorf("educator = %+v", e.Course.Educator)
	}
	want := Summary{AverageRating: 5, RatingCount: 1, TotalLectures: 2, TotalDuration: "1h 5m"}
	if e.Summary != want {
		t.Errorf("summary = %+v, want %+v", e.Summary, want)
	}
}

func TestService_GetByID_PreviewGating(t *testing.T) {
	stored := sampleCourse("c1", true)
	repo := &mockCourseRepo{
		findWithEducatorFn: func(ctx context.Context, id string) (*model.CourseWithEducator, error) {
			c := stored
			return &c, nil
		},
	}
	svc := NewService(repo, security.NewDescriptionSanitizer())

	entry, err := svc.GetByID(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}

	lectures := entry.Course.Content[0].Lectures
	if lectures[0].URL != "https://video.example/l1" {
		t.Errorf("preview lecture url = %q, want intact", lectures[0].URL)
	}
	if lectures[1].URL != "" {
		t.Errorf("locked lecture url = %q, want empty", lectures[1].URL)
	}
	if lectures[1].Title != "チャネル" || lectures[1].Duration != 55 {
		t.Errorf("locked lecture metadata lost: %+v", lectures[1])
	}
	// 元のスライスは変更しない
	if stored.Content[0].Lectures[1].URL == "" {
		t.Error("GetByID mutated the repository's chapters")
	}
	if entry.Summary.TotalLectures != 2 {
		t.Errorf("summary = %+v", entry.Summary)
	}
}

func TestService_GetByID_NotFound(t *testing.T) {
	tests := []struct {
		name   string
		stored *model.CourseWithEducator
	}{
		{"存在しない講座", nil},
		{"未公開の講座", func() *model.CourseWithEducator { c := sampleCourse("draft", false); return &c }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCourseRepo{
				findWithEducatorFn: func(ctx context.Context, id string) (*model.CourseWithEducator, error) {
					return tt.stored, nil
				},
			}
			svc := NewService(repo, security.NewDescriptionSanitizer())

			entry, err := svc.GetByID(context.Background(), "draft")
			if entry != nil {
				t.Errorf("entry = %+v, want nil", entry)
			}
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCourseNotFound {
				t.Errorf("error = %v, want %s", err, model.ErrCodeCourseNotFound)
			}
		})
	}
}

func TestService_ListPublished_RepoError(t *testing.T) {
	dbErr := errors.New("connection refused")
	repo := &mockCourseRepo{
		listPublishedFn: func(ctx context.Context) ([]model.CourseWithEducator, error) {
			return nil, dbErr
		},
	}
	svc := NewService(repo, security.NewDescriptionSanitizer())

	if _, err := svc.ListPublished(context.Background()); !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want wrapped %v", err, dbErr)
	}
}
