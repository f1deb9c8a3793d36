package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/quizmasterhq/quizmaster/models"
)

var (
	// ErrNotFound is returned when the quiz or session document is absent.
	ErrNotFound = errors.New("store: record not found")

	// ErrPreconditionFailed is returned when a conditional mutation matched
	// no rows. The caller re-reads to find out which precondition failed;
	// that read is for error reporting only, never to decide the mutation.
	ErrPreconditionFailed = errors.New("store: precondition failed")

	// ErrStaleIndex is returned when the answer compare-and-swap lost the
	// race: the participant's question index moved between read and write.
	ErrStaleIndex = errors.New("store: stale question index")
)

// ParticipantState is the single-participant projection used on the submit
// path: session status plus the one matching participant, never the full
// participant list.
type ParticipantState struct {
	SessionStatus string
	Participant   *models.Participant
}

// SessionStore is the narrow storage contract the session engine depends
// on. Every mutation is a single atomic conditional operation; correctness
// under concurrent calls is delegated entirely to these primitives.
type SessionStore interface {
	// CreateQuizWithSession persists the quiz definition and its waiting
	// session in one transaction and fills in generated IDs.
	CreateQuizWithSession(ctx context.Context, quiz *models.Quiz, session *models.QuizSession) error

	// QuizByID loads a quiz with its questions in order.
	QuizByID(ctx context.Context, quizID uuid.UUID) (*models.Quiz, error)

	// SessionByQuizID loads the session with participants in join order.
	SessionByQuizID(ctx context.Context, quizID uuid.UUID) (*models.QuizSession, error)

	// QuizzesByCreator lists quizzes created by the given user.
	QuizzesByCreator(ctx context.Context, userID uuid.UUID) ([]models.Quiz, error)

	// QuizzesByParticipant lists quizzes the given user has joined.
	QuizzesByParticipant(ctx context.Context, userID uuid.UUID) ([]models.Quiz, error)

	// ParticipantState fetches session status and the one participant
	// matching (quizID, userID). Participant is nil when the user has not
	// joined; ErrNotFound means the session itself is absent.
	ParticipantState(ctx context.Context, quizID, userID uuid.UUID) (*ParticipantState, error)

	// AppendParticipant appends p to the session's participant list if and
	// only if the session is waiting, the user has not already joined and
	// the room is below maxParticipants, all as one conditional write.
	// Returns ErrPreconditionFailed when any of those does not hold.
	AppendParticipant(ctx context.Context, quizID uuid.UUID, p *models.Participant, maxParticipants int) error

	// MarkInProgress moves the session from waiting to in_progress,
	// stamping startedAt. ErrNotFound when the session is absent,
	// ErrPreconditionFailed when the session is not waiting.
	MarkInProgress(ctx context.Context, quizID uuid.UUID, startedAt time.Time) error

	// RecordAnswer applies the submit compare-and-swap: require the
	// participant's currentQuestionIndex to still equal expectedIndex,
	// then in one atomic step append the answer record, advance the index
	// and bump the score when correct. ErrStaleIndex when the swap lost.
	RecordAnswer(ctx context.Context, quizID, userID uuid.UUID, expectedIndex int, selectedOption string, isCorrect bool) error

	// TopParticipants returns up to limit participants ordered by score
	// descending, join order as the stable secondary order.
	TopParticipants(ctx context.Context, quizID uuid.UUID, limit int) ([]models.Participant, error)
}
