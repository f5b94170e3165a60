// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/edumarket/internal/course"
	"github.com/hitoshi/edumarket/internal/middleware"
	"github.com/hitoshi/edumarket/internal/model"
)

// maxRequestBodySize はJSONリクエストボディとWebhookペイロードの上限サイズ。
const maxRequestBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvに読み込む。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := middleware.StatusForAPIError(apiErr)
		if statusCode >= 500 {
			slog.Error("request failed",
				slog.String("code", apiErr.Code),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// requireUserID は認証済みユーザーIDを取得する。取得できない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// userSummaryResponse は公開プロフィールのAPIレスポンス。
type userSummaryResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// courseResponse は講座のAPIレスポンス。
// カタログでは集計値、受講者向けでは全コンテンツを含む。
type courseResponse struct {
	ID               string               `json:"id"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	Price            decimal.Decimal      `json:"price"`
	Discount         int                  `json:"discount"`
	Thumbnail        string               `json:"thumbnail"`
	EducatorID       string               `json:"educator_id"`
	Educator         *userSummaryResponse `json:"educator,omitempty"`
	Content          []model.Chapter      `json:"content"`
	IsPublished      bool                 `json:"is_published"`
	EnrolledStudents []string             `json:"enrolled_students,omitempty"`
	Ratings          []model.CourseRating `json:"ratings"`
	AverageRating    *float64             `json:"average_rating,omitempty"`
	RatingCount      *int                 `json:"rating_count,omitempty"`
	TotalLectures    *int                 `json:"total_lectures,omitempty"`
	TotalDuration    string               `json:"total_duration,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

func toCourseResponse(c *model.Course) courseResponse {
	return courseResponse{
		ID:               c.ID,
		Title:            c.Title,
		Description:      c.Description,
		Price:            c.Price,
		Discount:         c.Discount,
		Thumbnail:        c.Thumbnail,
		EducatorID:       c.EducatorID,
		Content:          nonNil(c.Content),
		IsPublished:      c.IsPublished,
		EnrolledStudents: c.EnrolledStudents,
		Ratings:          nonNil(c.Ratings),
		CreatedAt:        c.CreatedAt,
	}
}

func toCatalogResponse(e course.CatalogEntry) courseResponse {
	resp := toCourseResponse(&e.Course.Course)
	resp.Educator = &userSummaryResponse{
		ID:       e.Course.Educator.ID,
		Name:     e.Course.Educator.Name,
		ImageURL: e.Course.Educator.ImageURL,
	}
	resp.AverageRating = &e.Summary.AverageRating
	resp.RatingCount = &e.Summary.RatingCount
	resp.TotalLectures = &e.Summary.TotalLectures
	resp.TotalDuration = e.Summary.TotalDuration
	return resp
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
