package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SessionWaiting    = "waiting"
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
)

// QuizSession is the live state of a quiz. One session per quiz, created
// together with it. Status changes only through conditional updates in the
// store: waiting -> in_progress by the host, in_progress -> completed by
// the expiry job.
type QuizSession struct {
	ID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	QuizID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"quiz_id"`
	HostID uuid.UUID `gorm:"type:uuid;not null" json:"host_id"`
	Status string    `gorm:"size:20;not null;default:'waiting'" json:"status"`

	Participants []Participant `gorm:"foreignKey:SessionID" json:"participants,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Participant rows are append-only apart from the score/index pair, which
// moves only through the compare-and-swap in the store. The unique index on
// (session_id, user_id) backs the no-double-join invariant.
type Participant struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"-"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_session_user" json:"-"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_session_user" json:"user_id"`
	Username  string    `gorm:"size:100;not null" json:"username"`

	Score                int `gorm:"not null;default:0" json:"score"`
	CurrentQuestionIndex int `gorm:"not null;default:0" json:"current_question_index"`

	Answers []AnswerRecord `gorm:"foreignKey:ParticipantID" json:"answers,omitempty"`

	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

// AnswerRecord is immutable once written. The unique index on
// (participant_id, question_index) means at most one record per question.
type AnswerRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"-"`
	ParticipantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_participant_question" json:"-"`
	QuestionIndex int       `gorm:"not null;uniqueIndex:idx_participant_question" json:"question_index"`

	SelectedOption string `gorm:"type:text;not null" json:"selected_option"`
	IsCorrect      bool   `gorm:"not null" json:"is_correct"`
}
