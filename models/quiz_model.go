package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Quiz is the immutable quiz definition. Sessions reference it; nothing
// mutates a quiz after creation.
type Quiz struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Code             string    `gorm:"size:10;not null;unique" json:"code"`
	Title            string    `gorm:"size:255;not null" json:"title"`
	Description      string    `gorm:"type:text" json:"description"`
	Topic            string    `gorm:"size:100;not null" json:"topic"`
	Difficulty       string    `gorm:"size:50;not null" json:"difficulty"`
	MaxParticipants  int       `gorm:"not null" json:"max_participants"`
	PointsPerCorrect int       `gorm:"not null;default:1" json:"points_per_correct"`
	DurationMinutes  int       `gorm:"not null" json:"duration_minutes"`
	StartTime        time.Time `gorm:"not null" json:"start_time"`

	Questions []Question `gorm:"foreignKey:QuizID" json:"questions,omitempty"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null;index" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type Question struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	QuizID   uuid.UUID `gorm:"type:uuid;not null;index" json:"quiz_id"`
	Position int       `gorm:"not null" json:"position"`

	Text          string         `gorm:"type:text;not null" json:"question"`
	Options       pq.StringArray `gorm:"type:text[];not null" json:"options"`
	CorrectAnswer string         `gorm:"type:text;not null" json:"-"`
	Explanation   string         `gorm:"type:text" json:"explanation,omitempty"`
}
