package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/edumarket/internal/course"
	"github.com/hitoshi/edumarket/internal/educator"
	"github.com/hitoshi/edumarket/internal/middleware"
	"github.com/hitoshi/edumarket/internal/model"
)

// --- モック定義 ---

type mockIdentityParser struct {
	parseFn func(payload []byte, headers http.Header) (model.IdentityEvent, error)
}

func (m *mockIdentityParser) ParseEvent(payload []byte, headers http.Header) (model.IdentityEvent, error) {
	return m.parseFn(payload, headers)
}

type mockIdentityHandler struct {
	handleFn func(ctx context.Context, ev model.IdentityEvent) (model.Ack, error)
}

func (m *mockIdentityHandler) Handle(ctx context.Context, ev model.IdentityEvent) (model.Ack, error) {
	return m.handleFn(ctx, ev)
}

type mockPaymentParser struct {
	parseFn func(payload []byte, signature string) (model.PaymentEvent, error)
}

func (m *mockPaymentParser) ParseEvent(payload []byte, signature string) (model.PaymentEvent, error) {
	return m.parseFn(payload, signature)
}

type mockPaymentHandler struct {
	handleFn func(ctx context.Context, ev model.PaymentEvent) (model.Ack, error)
}

func (m *mockPaymentHandler) Handle(ctx context.Context, ev model.PaymentEvent) (model.Ack, error) {
	return m.handleFn(ctx, ev)
}

// recordedEvent は監査ログ1件分。
type recordedEvent struct {
	provider, eventID, eventType, outcome string
}

type mockEventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (m *mockEventRecorder) Record(ctx context.Context, provider, eventID, eventType, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{provider, eventID, eventType, outcome})
	return m.err
}

// recordingMetrics はMetricsCollectorの記録用モック。
type recordingMetrics struct {
	mu            sync.Mutex
	webhooks      []string // "provider:outcome"
	verifyFailure []string
}

func (m *recordingMetrics) RecordWebhook(provider, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, provider+":"+outcome)
}

func (m *recordingMetrics) RecordVerificationFailure(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyFailure = append(m.verifyFailure, provider)
}

func (m *recordingMetrics) RecordReconcile(eventType, outcome string) {}
func (m *recordingMetrics) RecordAnomaly(eventType string) {}
func (m *recordingMetrics) RecordCorrelationLookup(outcome string, dur time.Duration) {}
func (m *recordingMetrics) RecordRepair(repaired, failed int) {}

type mockCourseService struct {
	listFn func(ctx context.Context) ([]course.CatalogEntry, error)
	getFn  func(ctx context.Context, courseID string) (*course.CatalogEntry, error)
}

func (m *mockCourseService) ListPublished(ctx context.Context) ([]course.CatalogEntry, error) {
	return m.listFn(ctx)
}

func (m *mockCourseService) GetByID(ctx context.Context, courseID string) (*course.CatalogEntry, error) {
	return m.getFn(ctx, courseID)
}

type mockUserService struct {
	getUserFn         func(ctx context.Context, userID string) (*model.User, error)
	enrolledCoursesFn func(ctx context.Context, userID string) ([]*model.Course, error)
	addRatingFn       func(ctx context.Context, userID, courseID string, rating int) error
}

func (m *mockUserService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return m.getUserFn(ctx, userID)
}

func (m *mockUserService) EnrolledCourses(ctx context.Context, userID string) ([]*model.Course, error) {
	return m.enrolledCoursesFn(ctx, userID)
}

func (m *mockUserService) AddRating(ctx context.Context, userID, courseID string, rating int) error {
	return m.addRatingFn(ctx, userID, courseID, rating)
}

type mockCheckoutService struct {
	checkoutFn func(ctx context.Context, userID, courseID, origin string) (string, error)
}

func (m *mockCheckoutService) Checkout(ctx context.Context, userID, courseID, origin string) (string, error) {
	return m.checkoutFn(ctx, userID, courseID, origin)
}

type mockEducatorService struct {
	updateRoleFn       func(ctx context.Context, userID string) error
	addCourseFn        func(ctx context.Context, educatorID string, in educator.CourseInput) (*model.Course, error)
	coursesFn          func(ctx context.Context, educatorID string) ([]*model.Course, error)
	dashboardFn        func(ctx context.Context, educatorID string) (*model.DashboardData, error)
	enrolledStudentsFn func(ctx context.Context, educatorID string) ([]model.EnrolledStudent, error)
}

func (m *mockEducatorService) UpdateRole(ctx context.Context, userID string) error {
	return m.updateRoleFn(ctx, userID)
}

func (m *mockEducatorService) AddCourse(ctx context.Context, educatorID string, in educator.CourseInput) (*model.Course, error) {
	return m.addCourseFn(ctx, educatorID, in)
}

func (m *mockEducatorService) Courses(ctx context.Context, educatorID string) ([]*model.Course, error) {
	return m.coursesFn(ctx, educatorID)
}

func (m *mockEducatorService) Dashboard(ctx context.Context, educatorID string) (*model.DashboardData, error) {
	return m.dashboardFn(ctx, educatorID)
}

func (m *mockEducatorService) EnrolledStudents(ctx context.Context, educatorID string) ([]model.EnrolledStudent, error) {
	return m.enrolledStudentsFn(ctx, educatorID)
}

// --- ヘルパー ---

// withUserID はリクエストコンテキストに認証済みユーザーIDを注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// decodeBody はレスポンスボディをmapにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

// errorCode はエラーレスポンスのcodeを返す。
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeBody(t, w)["code"].(string)
	return code
}
