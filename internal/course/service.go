// Package course は講座カタログの参照を提供する。
package course

import (
	"context"
	"fmt"

	"github.com/hitoshi/edumarket/internal/model"
	"github.com/hitoshi/edumarket/internal/repository"
	"github.com/hitoshi/edumarket/internal/security"
)

// CatalogEntry はカタログに表示する講座1件分。
type CatalogEntry struct {
	Course  model.CourseWithEducator
	Summary Summary
}

// Service は公開カタログのサービス層。
type Service struct {
	courseRepo repository.CourseRepository
	sanitizer  security.HTMLSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(courseRepo repository.CourseRepository, sanitizer security.HTMLSanitizer) *Service {
	return &Service{
		courseRepo: courseRepo,
		sanitizer:  sanitizer,
	}
}

// ListPublished は公開中の講座を新しい順に返す。
// コンテンツと受講者一覧は除去し、集計値のみを付与する。
func (s *Service) ListPublished(ctx context.Context) ([]CatalogEntry, error) {
	courses, err := s.courseRepo.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("講座一覧の取得に失敗しました: %w", err)
	}

	entries := make([]CatalogEntry, 0, len(courses))
	for _, c := range courses {
		if !c.IsPublished {
			continue
		}
		summary := Summarize(&c.Course)
		c.Content = nil
		c.EnrolledStudents = nil
		c.Description = s.sanitizer.Sanitize(c.Description)
		entries = append(entries, CatalogEntry{Course: c, Summary: summary})
	}
	return entries, nil
}

// GetByID は公開済み講座の詳細を返す。無料プレビュー以外の講義URLは空にする。
// 存在しない講座と未公開の講座はどちらもCOURSE_NOT_FOUNDとする。
func (s *Service) GetByID(ctx context.Context, courseID string) (*CatalogEntry, error) {
	c, err := s.courseRepo.FindWithEducator(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("講座の取得に失敗しました: %w", err)
	}
	if c == nil || !c.IsPublished {
		return nil, model.NewCourseNotFoundError(courseID)
	}

	summary := Summarize(&c.Course)
	c.Content = GatePreview(c.Content)
	c.EnrolledStudents = nil
	c.Description = s.sanitizer.Sanitize(c.Description)
	return &CatalogEntry{Course: *c, Summary: summary}, nil
}

// GatePreview は無料プレビューでない講義のURLを空にしたコピーを返す。
func GatePreview(chapters []model.Chapter) []model.Chapter {
	gated := make([]model.Chapter, len(chapters))
	for i, ch := range chapters {
		lectures := make([]model.Lecture, len(ch.Lectures))
		for j, l := range ch.Lectures {
			if !l.IsPreviewFree {
				l.URL = ""
			}
			lectures[j] = l
		}
		ch.Lectures = lectures
		gated[i] = ch
	}
	return gated
}
