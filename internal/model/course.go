package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Course は講師が公開する講座を表す。
type Course struct {
	ID               string
	Title            string
	Description      string // HTML
	Price            decimal.Decimal
	Discount         int // 割引率（0〜100%）
	Thumbnail        string
	EducatorID       string
	Content          []Chapter
	IsPublished      bool
	EnrolledStudents []string // 受講者ユーザーIDの集合
	Ratings          []CourseRating
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Chapter は講座の章を表す。Lecturesは表示順に並ぶ。
type Chapter struct {
	ID       string    `json:"chapter_id"`
	Order    int       `json:"chapter_order"`
	Title    string    `json:"chapter_title"`
	Lectures []Lecture `json:"chapter_content"`
}

// Lecture は章に含まれる講義を表す。
type Lecture struct {
	ID            string `json:"lecture_id"`
	Title         string `json:"lecture_title"`
	Duration      int    `json:"lecture_duration"` // 分
	URL           string `json:"lecture_url"`
	IsPreviewFree bool   `json:"is_preview_free"`
	Order         int    `json:"lecture_order"`
}

// CourseRating は受講者1人分の評価を表す。
type CourseRating struct {
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
}

// HasStudent は指定ユーザーが受講者集合に含まれるかを返す。
func (c *Course) HasStudent(userID string) bool {
	return containsID(c.EnrolledStudents, userID)
}

// DiscountedPrice は割引適用後の価格を小数点以下2桁に丸めて返す。
func (c *Course) DiscountedPrice() decimal.Decimal {
	off := c.Price.Mul(decimal.NewFromInt(int64(c.Discount))).Div(decimal.NewFromInt(100))
	return c.Price.Sub(off).Round(2)
}

// UserSummary はカタログやダッシュボードに結合される公開プロフィールを表す。
type UserSummary struct {
	ID       string
	Name     string
	ImageURL string
}

// CourseWithEducator は講座と講師プロフィールを結合したモデル。
type CourseWithEducator struct {
	Course
	Educator UserSummary
}
