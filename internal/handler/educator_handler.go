package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/edumarket/internal/educator"
	"github.com/hitoshi/edumarket/internal/model"
)

// EducatorServiceInterface は講師ハンドラーが必要とするサービスインターフェース。
type EducatorServiceInterface interface {
	UpdateRole(ctx context.Context, userID string) error
	AddCourse(ctx context.Context, educatorID string, in educator.CourseInput) (*model.Course, error)
	Courses(ctx context.Context, educatorID string) ([]*model.Course, error)
	Dashboard(ctx context.Context, educatorID string) (*model.DashboardData, error)
	EnrolledStudents(ctx context.Context, educatorID string) ([]model.EnrolledStudent, error)
}

// EducatorHandler は講師向けのHTTPハンドラー。
type EducatorHandler struct {
	service EducatorServiceInterface
}

// NewEducatorHandler はEducatorHandlerを生成する。
func NewEducatorHandler(service EducatorServiceInterface) *EducatorHandler {
	return &EducatorHandler{service: service}
}

// addCourseRequest は講座作成リクエストのボディ。
type addCourseRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Discount    int             `json:"discount"`
	Thumbnail   string          `json:"thumbnail"`
	Content     []model.Chapter `json:"content"`
	IsPublished bool            `json:"is_published"`
}

// enrolledStudentResponse は受講者1行分のAPIレスポンス。
type enrolledStudentResponse struct {
	CourseTitle  string              `json:"course_title"`
	Student      userSummaryResponse `json:"student"`
	PurchaseDate *time.Time          `json:"purchase_date,omitempty"`
}

// dashboardResponse は講師ダッシュボードのAPIレスポンス。
type dashboardResponse struct {
	TotalCourses     int                       `json:"total_courses"`
	TotalEarnings    decimal.Decimal           `json:"total_earnings"`
	EnrolledStudents []enrolledStudentResponse `json:"enrolled_students"`
}

func toEnrolledStudentResponses(rows []model.EnrolledStudent) []enrolledStudentResponse {
	resp := make([]enrolledStudentResponse, len(rows))
	for i, row := range rows {
		resp[i] = enrolledStudentResponse{
			CourseTitle: row.CourseTitle,
			Student: userSummaryResponse{
				ID:       row.Student.ID,
				Name:     row.Student.Name,
				ImageURL: row.Student.ImageURL,
			},
		}
		if !row.PurchaseDate.IsZero() {
			d := row.PurchaseDate
			resp[i].PurchaseDate = &d
		}
	}
	return resp
}

// UpdateRole はログイン中ユーザーを講師に昇格する。
// PATCH /api/educator/update-role
func (h *EducatorHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.UpdateRole(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "You can publish a course now"})
}

// AddCourse は講座を作成する。
// POST /api/educator/add-course
func (h *EducatorHandler) AddCourse(w http.ResponseWriter, r *http.Request) {
	educatorID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addCourseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}

	c, err := h.service.AddCourse(r.Context(), educatorID, educator.CourseInput{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Discount:    req.Discount,
		Thumbnail:   req.Thumbnail,
		Content:     req.Content,
		IsPublished: req.IsPublished,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"course": toCourseResponse(c)})
}

// Courses は講師自身の講座一覧を返す。
// GET /api/educator/courses
func (h *EducatorHandler) Courses(w http.ResponseWriter, r *http.Request) {
	educatorID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	courses, err := h.service.Courses(r.Context(), educatorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]courseResponse, len(courses))
	for i, c := range courses {
		resp[i] = toCourseResponse(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": resp})
}

// Dashboard は講師ダッシュボードの集計値を返す。
// GET /api/educator/dashboard
func (h *EducatorHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	educatorID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	data, err := h.service.Dashboard(r.Context(), educatorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dashboard": dashboardResponse{
		TotalCourses:     data.TotalCourses,
		TotalEarnings:    data.TotalEarnings,
		EnrolledStudents: toEnrolledStudentResponses(data.EnrolledStudents),
	}})
}

// EnrolledStudents はcompleted購入ごとの受講者一覧を購入日時の昇順で返す。
// GET /api/educator/enrolled-students
func (h *EducatorHandler) EnrolledStudents(w http.ResponseWriter, r *http.Request) {
	educatorID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	rows, err := h.service.EnrolledStudents(r.Context(), educatorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enrolled_students": toEnrolledStudentResponses(rows)})
}
