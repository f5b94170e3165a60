package purchase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/edumarket/internal/model"
	"github.com/hitoshi/edumarket/internal/repository"
)

// memStore はテスト用のインメモリストア。
// Postgres実装と同じく、1回の状態遷移をロック内で原子的に行う。
type memStore struct {
	mu        sync.Mutex
	users     map[string]*model.User
	courses   map[string]*model.Course
	purchases map[string]*model.Purchase

	completeErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*model.User),
		courses:   make(map[string]*model.Course),
		purchases: make(map[string]*model.Purchase),
	}
}

func (s *memStore) addUser(id string, enrolled ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &model.User{ID: id, Name: id, EnrolledCourses: append([]string(nil), enrolled...)}
}

func (s *memStore) addCourse(c model.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = &c
}

func (s *memStore) addPurchase(id, userID, courseID string, status model.PurchaseStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[id] = &model.Purchase{
		ID: id, UserID: userID, CourseID: courseID,
		Amount: decimal.NewFromInt(100), Status: status,
	}
}

func (s *memStore) status(id string) model.PurchaseStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purchases[id].Status
}

func (s *memStore) enrolledCourses(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users[userID].EnrolledCourses...)
}

func (s *memStore) enrolledStudents(courseID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.courses[courseID].EnrolledStudents...)
}

// --- UserRepository ---

type memUsers struct{ *memStore }

func (r memUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.EnrolledCourses = append([]string(nil), u.EnrolledCourses...)
	return &cp, nil
}

func (r memUsers) FindSummariesByIDs(_ context.Context, ids []string) (map[string]model.UserSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.UserSummary)
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out[id] = model.UserSummary{ID: u.ID, Name: u.Name, ImageURL: u.ImageURL}
		}
	}
	return out, nil
}

func (r memUsers) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		return repository.ErrDuplicateKey
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r memUsers) UpdateProfile(_ context.Context, id string, p model.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Name, u.Email, u.ImageURL = p.Name, p.Email, p.ImageURL
	return nil
}

func (r memUsers) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// --- CourseRepository ---

type memCourses struct{ *memStore }

func (r memCourses) FindByID(_ context.Context, id string) (*model.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r memCourses) FindWithEducator(ctx context.Context, id string) (*model.CourseWithEducator, error) {
	c, err := r.FindByID(ctx, id)
	if c == nil || err != nil {
		return nil, err
	}
	return &model.CourseWithEducator{Course: *c, Educator: model.UserSummary{ID: c.EducatorID}}, nil
}

func (r memCourses) ListPublished(context.Context) ([]model.CourseWithEducator, error) {
	return nil, errors.New("not implemented")
}

func (r memCourses) ListByEducator(context.Context, string) ([]*model.Course, error) {
	return nil, errors.New("not implemented")
}

func (r memCourses) ListByIDs(context.Context, []string) ([]*model.Course, error) {
	return nil, errors.New("not implemented")
}

func (r memCourses) Create(_ context.Context, c *model.Course) error {
	r.addCourse(*c)
	return nil
}

func (r memCourses) UpsertRating(context.Context, string, model.CourseRating) error {
	return errors.New("not implemented")
}

// --- PurchaseRepository ---

type memPurchases struct{ *memStore }

func (r memPurchases) Create(_ context.Context, p *model.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.purchases[p.ID]; ok {
		return repository.ErrDuplicateKey
	}
	cp := *p
	cp.CreatedAt = time.Now()
	r.purchases[p.ID] = &cp
	return nil
}

func (r memPurchases) FindByID(_ context.Context, id string) (*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func addToSet(set []string, id string) []string {
	for _, v := range set {
		if v == id {
			return set
		}
	}
	return append(set, id)
}

func (r memPurchases) CompleteWithEnrollment(_ context.Context, id string) (model.TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completeErr != nil {
		return 0, r.completeErr
	}
	p, ok := r.purchases[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if p.Status == model.PurchaseStatusFailed {
		return model.TransitionConflict, nil
	}
	c, ok := r.courses[p.CourseID]
	if !ok {
		return 0, &repository.MissingReferenceError{Kind: "course", ID: p.CourseID}
	}
	u, ok := r.users[p.UserID]
	if !ok {
		return 0, &repository.MissingReferenceError{Kind: "user", ID: p.UserID}
	}
	c.EnrolledStudents = addToSet(c.EnrolledStudents, u.ID)
	u.EnrolledCourses = addToSet(u.EnrolledCourses, c.ID)
	if p.Status == model.PurchaseStatusCompleted {
		return model.TransitionAlreadyApplied, nil
	}
	p.Status = model.PurchaseStatusCompleted
	return model.TransitionApplied, nil
}

func (r memPurchases) MarkFailed(_ context.Context, id string) (model.TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	switch p.Status {
	case model.PurchaseStatusFailed:
		return model.TransitionAlreadyApplied, nil
	case model.PurchaseStatusCompleted:
		return model.TransitionConflict, nil
	}
	p.Status = model.PurchaseStatusFailed
	return model.TransitionApplied, nil
}

func (r memPurchases) SumCompletedAmountByEducator(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("not implemented")
}

func (r memPurchases) ListCompletedByEducator(context.Context, string) ([]model.EnrolledStudent, error) {
	return nil, errors.New("not implemented")
}

func (r memPurchases) ListEnrollmentDrift(context.Context, int) ([]*model.Purchase, error) {
	return nil, errors.New("not implemented")
}

var (
	_ repository.UserRepository     = memUsers{}
	_ repository.CourseRepository   = memCourses{}
	_ repository.PurchaseRepository = memPurchases{}
)
