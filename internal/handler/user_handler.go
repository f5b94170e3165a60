package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/edumarket/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	EnrolledCourses(ctx context.Context, userID string) ([]*model.Course, error)
	AddRating(ctx context.Context, userID, courseID string, rating int) error
}

// CheckoutServiceInterface は購入開始に必要なサービスインターフェース。
type CheckoutServiceInterface interface {
	Checkout(ctx context.Context, userID, courseID, origin string) (string, error)
}

// UserHandler は受講者向けのHTTPハンドラー。
type UserHandler struct {
	service     UserServiceInterface
	checkout    CheckoutServiceInterface
	frontendURL string
}

// NewUserHandler はUserHandlerを生成する。
// frontendURLは決済完了後のリダイレクト先オリジン。
func NewUserHandler(service UserServiceInterface, checkout CheckoutServiceInterface, frontendURL string) *UserHandler {
	return &UserHandler{
		service:     service,
		checkout:    checkout,
		frontendURL: frontendURL,
	}
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	ImageURL        string   `json:"image_url"`
	EnrolledCourses []string `json:"enrolled_courses"`
}

type purchaseRequest struct {
	CourseID string `json:"course_id"`
}

type ratingRequest struct {
	CourseID string `json:"course_id"`
	Rating   int    `json:"rating"`
}

// GetUserData はログイン中ユーザーの情報を返す。
// GET /api/user/data
func (h *UserHandler) GetUserData(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": userResponse{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		ImageURL:        u.ImageURL,
		EnrolledCourses: nonNil(u.EnrolledCourses),
	}})
}

// EnrolledCourses は受講中の講座を全コンテンツ付きで返す。
// GET /api/user/enrolled-courses
func (h *UserHandler) EnrolledCourses(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	courses, err := h.service.EnrolledCourses(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]courseResponse, len(courses))
	for i, c := range courses {
		resp[i] = toCourseResponse(c)
		// 受講者一覧は他の受講者の情報なので返さない
		resp[i].EnrolledStudents = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"enrolled_courses": resp})
}

// Purchase は講座の購入を開始し、決済ページのURLを返す。
// POST /api/user/purchase
func (h *UserHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil || req.CourseID == "" {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}

	url, err := h.checkout.Checkout(r.Context(), userID, req.CourseID, h.frontendURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_url": url})
}

// AddRating は受講中の講座に評価を付ける。同じユーザーの評価は上書きされる。
// POST /api/user/add-rating
func (h *UserHandler) AddRating(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req ratingRequest
	if err := decodeJSON(w, r, &req); err != nil || req.CourseID == "" {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}

	if err := h.service.AddRating(r.Context(), userID, req.CourseID, req.Rating); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Rating added"})
}
