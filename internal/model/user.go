// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（受講者・講師）を表す。
// IDはIdP（Clerk）が払い出したユーザーIDをそのまま主キーとして使用する。
type User struct {
	ID              string
	Name            string
	Email           string
	ImageURL        string
	EnrolledCourses []string // 受講中コースIDの集合
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsEnrolledIn はユーザーが指定コースを受講中かどうかを返す。
func (u *User) IsEnrolledIn(courseID string) bool {
	return containsID(u.EnrolledCourses, courseID)
}

// UserProfile はIdPのユーザー更新イベントで上書きされるプロフィール項目。
type UserProfile struct {
	Name     string
	Email    string
	ImageURL string
}

// RoleEducator は講師ロールを表すIdPのpublic metadata値。
const RoleEducator = "educator"

// containsID はIDの集合にidが含まれるかを返す。
func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
