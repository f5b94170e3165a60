package course

import (
	"fmt"
	"strings"

	"github.com/hitoshi/edumarket/internal/model"
)

// Summary はカタログ表示用の派生値。
type Summary struct {
	AverageRating float64
	RatingCount   int
	TotalLectures int
	TotalDuration string
}

// Summarize は講座の評価・講義数・総再生時間を集計する。
// コンテンツを除去する前の講座に対して呼び出すこと。
func Summarize(c *model.Course) Summary {
	return Summary{
		AverageRating: AverageRating(c.Ratings),
		RatingCount:   len(c.Ratings),
		TotalLectures: LectureCount(c.Content),
		TotalDuration: FormatDuration(CourseDuration(c.Content)),
	}
}

// AverageRating は評価の平均値を返す。評価がない場合は0。
func AverageRating(ratings []model.CourseRating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	total := 0
	for _, r := range ratings {
		total += r.Rating
	}
	return float64(total) / float64(len(ratings))
}

// ChapterDuration は章に含まれる講義の合計時間（分）を返す。
func ChapterDuration(ch model.Chapter) int {
	minutes := 0
	for _, l := range ch.Lectures {
		minutes += l.Duration
	}
	return minutes
}

// CourseDuration は講座全体の合計時間（分）を返す。
func CourseDuration(chapters []model.Chapter) int {
	minutes := 0
	for _, ch := range chapters {
		minutes += ChapterDuration(ch)
	}
	return minutes
}

// LectureCount は講座に含まれる講義数を返す。
func LectureCount(chapters []model.Chapter) int {
	n := 0
	for _, ch := range chapters {
		n += len(ch.Lectures)
	}
	return n
}

// FormatDuration は分を "1h 5m" 形式に変換する。0分は "0m"。
func FormatDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	h, m := minutes/60, minutes%60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 || h == 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	return strings.Join(parts, " ")
}
