package models

import "time"

// Enrollment is the materialized access edge between a user and a course.
// It is written only inside a purchase transition into or out of completed.
type Enrollment struct {
	ID         string     `gorm:"column:id;primary_key;type:uuid" json:"id"`
	UserID     string     `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:unique_enrollment_user_course,priority:1" json:"user_id"`
	CourseID   string     `gorm:"column:course_id;type:varchar(64);not null;uniqueIndex:unique_enrollment_user_course,priority:2" json:"course_id"`
	PurchaseID string     `gorm:"column:purchase_id;type:uuid;not null" json:"purchase_id"`
	EnrolledAt time.Time  `gorm:"column:enrolled_at;not null" json:"enrolled_at"`
	RevokedAt  *time.Time `gorm:"column:revoked_at;default:null" json:"revoked_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Enrollment) TableName() string {
	return "enrollment"
}

func (e *Enrollment) Active() bool {
	return e != nil && e.RevokedAt == nil
}
