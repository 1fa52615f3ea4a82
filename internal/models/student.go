package models

import "time"

// Student is the read-only identity of a learner taking evaluations.
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"nombre"`
	Email     string    `gorm:"size:255;index" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName falls back to the email when no name is set.
func (s Student) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Email
}
