package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hitoshi/edumarket/internal/model"
)

func TestPostgresPurchaseRepo_ImplementsInterface(t *testing.T) {
	var _ PurchaseRepository = (*PostgresPurchaseRepo)(nil)
}

type purchaseFixture struct {
	users     *PostgresUserRepo
	courses   *PostgresCourseRepo
	purchases *PostgresPurchaseRepo
}

func newPurchaseFixture(t *testing.T) purchaseFixture {
	t.Helper()
	db := setupTestDB(t)
	return purchaseFixture{
		users:     NewPostgresUserRepo(db),
		courses:   NewPostgresCourseRepo(db),
		purchases: NewPostgresPurchaseRepo(db),
	}
}

func (f purchaseFixture) assertEnrollment(t *testing.T, userID, courseID string) {
	t.Helper()
	ctx := context.Background()

	u, err := f.users.FindByID(ctx, userID)
	if err != nil || u == nil {
		t.Fatalf("FindByID(%s) = %v, %v", userID, u, err)
	}
	c, err := f.courses.FindByID(ctx, courseID)
	if err != nil || c == nil {
		t.Fatalf("FindByID(%s) = %v, %v", courseID, c, err)
	}

	if n := countOf(u.EnrolledCourses, courseID); n != 1 {
		t.Errorf("user.EnrolledCourses contains %s %d times, want 1", courseID, n)
	}
	if n := countOf(c.EnrolledStudents, userID); n != 1 {
		t.Errorf("course.EnrolledStudents contains %s %d times, want 1", userID, n)
	}
}

func (f purchaseFixture) status(t *testing.T, id string) model.PurchaseStatus {
	t.Helper()
	p, err := f.purchases.FindByID(context.Background(), id)
	if err != nil || p == nil {
		t.Fatalf("FindByID(%s) = %v, %v", id, p, err)
	}
	return p.Status
}

func countOf(ids []string, id string) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}

// 同じ購入に対して2回適用しても受講登録は1件ずつ、状態はcompleted。
func TestPostgresPurchaseRepo_CompleteWithEnrollment_Idempotent(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	seedUser(t, f.users, "u1", "Student")
	seedCourse(t, f.courses, "c1", "edu_1", true)
	seedPurchase(t, f.purchases, "p1", "u1", "c1", "49.99", model.PurchaseStatusPending)

	first, err := f.purchases.CompleteWithEnrollment(ctx, "p1")
	if err != nil {
		t.Fatalf("first CompleteWithEnrollment returned error: %v", err)
	}
	second, err := f.purchases.CompleteWithEnrollment(ctx, "p1")
	if err != nil {
		t.Fatalf("second CompleteWithEnrollment returned error: %v", err)
	}

	if first != model.TransitionApplied || second != model.TransitionAlreadyApplied {
		t.Errorf("results = %v, %v; want applied, already_applied", first, second)
	}
	if got := f.status(t, "p1"); got != model.PurchaseStatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
	f.assertEnrollment(t, "u1", "c1")
}

func TestPostgresPurchaseRepo_CompleteWithEnrollment_Concurrent(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	seedUser(t, f.users, "u1", "Student")
	seedCourse(t, f.courses, "c1", "edu_1", true)
	seedPurchase(t, f.purchases, "p1", "u1", "c1", "10", model.PurchaseStatusPending)

	const workers = 8
	results := make([]model.TransitionResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.purchases.CompleteWithEnrollment(ctx, "p1")
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d returned error: %v", i, errs[i])
		}
		if results[i] == model.TransitionApplied {
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("applied %d times, want exactly 1", applied)
	}
	f.assertEnrollment(t, "u1", "c1")
}

// 参照先が存在しない場合はcompletedにならない。
func TestPostgresPurchaseRepo_CompleteWithEnrollment_MissingReference(t *testing.T) {
	tests := []struct {
		name     string
		seedUser bool
		seedCrs  bool
		wantKind string
	}{
		{"missing user", false, true, "user"},
		{"missing course", true, false, "course"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPurchaseFixture(t)
			ctx := context.Background()

			if tt.seedUser {
				seedUser(t, f.users, "u1", "Student")
			}
			if tt.seedCrs {
				seedCourse(t, f.courses, "c1", "edu_1", true)
			}
			seedPurchase(t, f.purchases, "p1", "u1", "c1", "10", model.PurchaseStatusPending)

			_, err := f.purchases.CompleteWithEnrollment(ctx, "p1")
			var refErr *MissingReferenceError
			if !errors.As(err, &refErr) {
				t.Fatalf("error = %v, want *MissingReferenceError", err)
			}
			if refErr.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", refErr.Kind, tt.wantKind)
			}
			if got := f.status(t, "p1"); got != model.PurchaseStatusPending {
				t.Errorf("status = %q, want pending", got)
			}
			if tt.seedCrs {
				c, _ := f.courses.FindByID(ctx, "c1")
				if len(c.EnrolledStudents) != 0 {
					t.Errorf("enrollment leaked despite rollback: %v", c.EnrolledStudents)
				}
			}
		})
	}
}

func TestPostgresPurchaseRepo_CompleteWithEnrollment_NotFound(t *testing.T) {
	f := newPurchaseFixture(t)
	_, err := f.purchases.CompleteWithEnrollment(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// 先に確定した終端状態が優先される。
func TestPostgresPurchaseRepo_FirstTerminalWins(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	seedUser(t, f.users, "u1", "Student")
	seedCourse(t, f.courses, "c1", "edu_1", true)
	seedPurchase(t, f.purchases, "failed_first", "u1", "c1", "10", model.PurchaseStatusPending)
	seedPurchase(t, f.purchases, "success_first", "u1", "c1", "10", model.PurchaseStatusPending)

	if r, err := f.purchases.MarkFailed(ctx, "failed_first"); err != nil || r != model.TransitionApplied {
		t.Fatalf("MarkFailed = %v, %v", r, err)
	}
	if r, err := f.purchases.CompleteWithEnrollment(ctx, "failed_first"); err != nil || r != model.TransitionConflict {
		t.Errorf("CompleteWithEnrollment after failure = %v, %v; want conflict", r, err)
	}
	if got := f.status(t, "failed_first"); got != model.PurchaseStatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
	if r, _ := f.purchases.MarkFailed(ctx, "failed_first"); r != model.TransitionAlreadyApplied {
		t.Errorf("repeated MarkFailed = %v, want already_applied", r)
	}

	if r, err := f.purchases.CompleteWithEnrollment(ctx, "success_first"); err != nil || r != model.TransitionApplied {
		t.Fatalf("CompleteWithEnrollment = %v, %v", r, err)
	}
	if r, err := f.purchases.MarkFailed(ctx, "success_first"); err != nil || r != model.TransitionConflict {
		t.Errorf("MarkFailed after success = %v, %v; want conflict", r, err)
	}
	if got := f.status(t, "success_first"); got != model.PurchaseStatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
}

// completed購入のみが売上に計上される。
func TestPostgresPurchaseRepo_SumCompletedAmountByEducator(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	seedCourse(t, f.courses, "c1", "edu_E", true)
	seedCourse(t, f.courses, "c2", "edu_other", true)
	seedPurchase(t, f.purchases, "p1", "u1", "c1", "100", model.PurchaseStatusCompleted)
	seedPurchase(t, f.purchases, "p2", "u2", "c1", "50", model.PurchaseStatusCompleted)
	seedPurchase(t, f.purchases, "p3", "u3", "c1", "999", model.PurchaseStatusPending)
	seedPurchase(t, f.purchases, "p4", "u4", "c1", "7", model.PurchaseStatusFailed)
	seedPurchase(t, f.purchases, "p5", "u5", "c2", "300", model.PurchaseStatusCompleted)

	total, err := f.purchases.SumCompletedAmountByEducator(ctx, "edu_E")
	if err != nil {
		t.Fatalf("SumCompletedAmountByEducator returned error: %v", err)
	}
	if total.String() != "150" {
		t.Errorf("total = %s, want 150", total)
	}

	none, err := f.purchases.SumCompletedAmountByEducator(ctx, "edu_nobody")
	if err != nil || !none.IsZero() {
		t.Errorf("total for educator without courses = %s, %v; want 0", none, err)
	}
}

func TestPostgresPurchaseRepo_ListCompletedByEducator(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	seedUser(t, f.users, "u1", "First")
	seedCourse(t, f.courses, "c1", "edu_E", true)
	seedPurchase(t, f.purchases, "p1", "u1", "c1", "100", model.PurchaseStatusCompleted)
	seedPurchase(t, f.purchases, "p2", "u_deleted", "c1", "50", model.PurchaseStatusCompleted)
	seedPurchase(t, f.purchases, "p3", "u1", "c1", "999", model.PurchaseStatusPending)

	rows, err := f.purchases.ListCompletedByEducator(ctx, "edu_E")
	if err != nil {
		t.Fatalf("ListCompletedByEducator returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Student.ID != "u1" || rows[0].Student.Name != "First" || rows[0].CourseTitle != "Course c1" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Student.ID != "u_deleted" || rows[1].Student.Name != "" {
		t.Errorf("unexpected second row: %+v", rows[1])
	}
	if rows[1].PurchaseDate.Before(rows[0].PurchaseDate) {
		t.Error("rows are not ordered by purchase date")
	}
}

func TestPostgresPurchaseRepo_ListEnrollmentDrift(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	seedUser(t, f.users, "u1", "Student")
	seedCourse(t, f.courses, "c1", "edu_1", true)
	seedCourse(t, f.courses, "c2", "edu_1", true)
	// c1: 正常に完了。c2: completedだが受講登録が欠落。
	seedPurchase(t, f.purchases, "ok", "u1", "c1", "10", model.PurchaseStatusPending)
	if _, err := f.purchases.CompleteWithEnrollment(ctx, "ok"); err != nil {
		t.Fatalf("CompleteWithEnrollment returned error: %v", err)
	}
	seedPurchase(t, f.purchases, "drift", "u1", "c2", "10", model.PurchaseStatusCompleted)
	seedPurchase(t, f.purchases, "orphan", "ghost", "c2", "10", model.PurchaseStatusCompleted)

	drift, err := f.purchases.ListEnrollmentDrift(ctx, 10)
	if err != nil {
		t.Fatalf("ListEnrollmentDrift returned error: %v", err)
	}
	if len(drift) != 1 || drift[0].ID != "drift" {
		t.Fatalf("drift = %v, want only 'drift'", drift)
	}

	if r, err := f.purchases.CompleteWithEnrollment(ctx, "drift"); err != nil || r != model.TransitionAlreadyApplied {
		t.Fatalf("repair CompleteWithEnrollment = %v, %v", r, err)
	}
	f.assertEnrollment(t, "u1", "c2")

	drift, _ = f.purchases.ListEnrollmentDrift(ctx, 10)
	if len(drift) != 0 {
		t.Errorf("drift after repair = %v, want none", drift)
	}
}
