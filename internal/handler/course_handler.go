package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/edumarket/internal/course"
)

// CourseServiceInterface は講座カタログハンドラーが必要とするサービスインターフェース。
type CourseServiceInterface interface {
	ListPublished(ctx context.Context) ([]course.CatalogEntry, error)
	GetByID(ctx context.Context, courseID string) (*course.CatalogEntry, error)
}

// CourseHandler は公開カタログのHTTPハンドラー。
type CourseHandler struct {
	service CourseServiceInterface
}

// NewCourseHandler はCourseHandlerを生成する。
func NewCourseHandler(service CourseServiceInterface) *CourseHandler {
	return &CourseHandler{service: service}
}

// ListCourses は公開中の講座一覧を返す。
// GET /api/course/all
func (h *CourseHandler) ListCourses(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListPublished(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	courses := make([]courseResponse, len(entries))
	for i, e := range entries {
		courses[i] = toCatalogResponse(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": courses})
}

// GetCourse は講座詳細を返す。無料プレビュー以外の講義URLは空になる。
// GET /api/course/{id}
func (h *CourseHandler) GetCourse(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"course": toCatalogResponse(*entry)})
}
