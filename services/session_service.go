package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/quizmasterhq/quizmaster/models"
	"github.com/quizmasterhq/quizmaster/store"
	"github.com/quizmasterhq/quizmaster/websocket"
)

const leaderboardSize = 10

// SessionService owns the quiz session lifecycle: the join protocol, the
// host-only start transition and answer submission. All session state
// lives behind the SessionStore; every mutation here is one atomic
// conditional storage operation, and events are published to the hub only
// after that operation has succeeded. A failed publish is logged and
// swallowed; the mutation is the source of truth.
type SessionService struct {
	store store.SessionStore
	hub   *websocket.Hub
}

func NewSessionService(st store.SessionStore, hub *websocket.Hub) *SessionService {
	return &SessionService{store: st, hub: hub}
}

// SubmitResult is what a participant learns from one answer submission.
// This is the only path that ever reveals the correct answer.
type SubmitResult struct {
	IsCorrect         bool   `json:"is_correct"`
	CorrectAnswer     string `json:"correct_answer"`
	NextQuestionIndex int    `json:"next_question_index"`
}

// QuestionView is a participant's current question with the correct
// answer stripped.
type QuestionView struct {
	QuestionIndex  int      `json:"question_index"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	TotalQuestions int      `json:"total_questions"`
}

// CreateQuiz persists the quiz definition together with its waiting
// session and returns both.
func (s *SessionService) CreateQuiz(ctx context.Context, quiz *models.Quiz, hostID uuid.UUID) (*models.QuizSession, error) {
	quiz.CreatedBy = hostID
	session := &models.QuizSession{
		HostID: hostID,
		Status: models.SessionWaiting,
	}
	if err := s.store.CreateQuizWithSession(ctx, quiz, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Snapshot returns the merged quiz definition and session state.
func (s *SessionService) Snapshot(ctx context.Context, quizID uuid.UUID) (*models.Quiz, *models.QuizSession, error) {
	quiz, err := s.store.QuizByID(ctx, quizID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil, ErrQuizNotFound
		}
		return nil, nil, err
	}
	session, err := s.store.SessionByQuizID(ctx, quizID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}
	return quiz, session, nil
}

// CreatedQuizzes lists quizzes the user created, each with its session.
func (s *SessionService) CreatedQuizzes(ctx context.Context, userID uuid.UUID) ([]models.Quiz, map[uuid.UUID]*models.QuizSession, error) {
	quizzes, err := s.store.QuizzesByCreator(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return s.attachSessions(ctx, quizzes)
}

// EnrolledQuizzes lists quizzes the user joined, each with its session.
func (s *SessionService) EnrolledQuizzes(ctx context.Context, userID uuid.UUID) ([]models.Quiz, map[uuid.UUID]*models.QuizSession, error) {
	quizzes, err := s.store.QuizzesByParticipant(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return s.attachSessions(ctx, quizzes)
}

func (s *SessionService) attachSessions(ctx context.Context, quizzes []models.Quiz) ([]models.Quiz, map[uuid.UUID]*models.QuizSession, error) {
	sessions := make(map[uuid.UUID]*models.QuizSession, len(quizzes))
	for _, quiz := range quizzes {
		session, err := s.store.SessionByQuizID(ctx, quiz.ID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, nil, err
		}
		sessions[quiz.ID] = session
	}
	return quizzes, sessions, nil
}

// Join appends the user to the session's participant list. The waiting
// status, uniqueness and capacity checks are folded into one conditional
// write in the store, so concurrent joins cannot jointly overshoot the
// room. The follow-up read only names which precondition failed.
func (s *SessionService) Join(ctx context.Context, quizID, userID uuid.UUID, username string) error {
	quiz, err := s.store.QuizByID(ctx, quizID)
	if err != nil {
		if err == store.ErrNotFound {
			return ErrQuizNotFound
		}
		return err
	}

	participant := &models.Participant{
		UserID:   userID,
		Username: username,
		JoinedAt: time.Now().UTC(),
	}

	err = s.store.AppendParticipant(ctx, quizID, participant, quiz.MaxParticipants)
	if err == nil {
		s.hub.Publish(quizID.String(), websocket.ParticipantJoinedEvent(userID.String(), username))
		return nil
	}
	if err != store.ErrPreconditionFailed {
		return err
	}

	session, err := s.store.SessionByQuizID(ctx, quizID)
	if err != nil {
		if err == store.ErrNotFound {
			return ErrSessionNotFound
		}
		return err
	}
	if session.Status != models.SessionWaiting {
		return ErrAlreadyStarted
	}
	for _, p := range session.Participants {
		if p.UserID == userID {
			return ErrAlreadyJoined
		}
	}
	if len(session.Participants) >= quiz.MaxParticipants {
		return ErrRoomFull
	}
	// Every precondition held on re-read; the room mutated under us and
	// settled again. The caller can simply retry.
	return ErrJoinFailed
}

// Start moves the session from waiting to in_progress. Only the host may
// start, and only once; the transition itself is a conditional update so
// two racing starts resolve to one winner. Returns the quiz duration for
// the broadcast.
func (s *SessionService) Start(ctx context.Context, quizID, callerID uuid.UUID) (int, error) {
	session, err := s.store.SessionByQuizID(ctx, quizID)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, ErrSessionNotFound
		}
		return 0, err
	}
	if session.HostID != callerID {
		return 0, ErrNotHost
	}

	if err := s.store.MarkInProgress(ctx, quizID, time.Now().UTC()); err != nil {
		switch err {
		case store.ErrNotFound:
			return 0, ErrSessionNotFound
		case store.ErrPreconditionFailed:
			return 0, ErrInvalidTransition
		}
		return 0, err
	}

	quiz, err := s.store.QuizByID(ctx, quizID)
	if err != nil {
		// Started but the definition vanished; nothing to broadcast.
		log.Printf("[session] quiz %s started but definition unreadable: %v", quizID, err)
		return 0, nil
	}

	s.hub.Publish(quizID.String(), websocket.QuizStartEvent(quiz.DurationMinutes))
	return quiz.DurationMinutes, nil
}

// CurrentQuestion returns the participant's current question without the
// correct answer.
func (s *SessionService) CurrentQuestion(ctx context.Context, quizID, userID uuid.UUID) (*QuestionView, error) {
	state, err := s.store.ParticipantState(ctx, quizID, userID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if state.Participant == nil {
		return nil, ErrNotParticipant
	}

	quiz, err := s.store.QuizByID(ctx, quizID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrQuizNotFound
		}
		return nil, err
	}

	idx := state.Participant.CurrentQuestionIndex
	if idx >= len(quiz.Questions) {
		return nil, ErrNoQuestionsLeft
	}

	q := quiz.Questions[idx]
	return &QuestionView{
		QuestionIndex:  idx,
		Question:       q.Text,
		Options:        []string(q.Options),
		TotalQuestions: len(quiz.Questions),
	}, nil
}

// Submit evaluates the participant's answer to their current question and
// applies it as a compare-and-swap on the question index: of any number of
// concurrent submissions for the same index, exactly one lands, the rest
// get ErrAnswerConflict.
func (s *SessionService) Submit(ctx context.Context, quizID, userID uuid.UUID, selectedOption string) (*SubmitResult, error) {
	if selectedOption == "" {
		return nil, ErrAnswerRequired
	}

	quiz, err := s.store.QuizByID(ctx, quizID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrQuizNotFound
		}
		return nil, err
	}

	state, err := s.store.ParticipantState(ctx, quizID, userID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if state.SessionStatus != models.SessionInProgress {
		return nil, ErrNotInProgress
	}
	if state.Participant == nil {
		return nil, ErrNotParticipant
	}

	idx := state.Participant.CurrentQuestionIndex
	if idx >= len(quiz.Questions) {
		return nil, ErrNoQuestionsLeft
	}

	correctAnswer := quiz.Questions[idx].CorrectAnswer
	isCorrect := selectedOption == correctAnswer

	err = s.store.RecordAnswer(ctx, quizID, userID, idx, selectedOption, isCorrect)
	if err != nil {
		if err == store.ErrStaleIndex {
			return nil, ErrAnswerConflict
		}
		return nil, err
	}

	s.publishLeaderboard(ctx, quizID)

	return &SubmitResult{
		IsCorrect:         isCorrect,
		CorrectAnswer:     correctAnswer,
		NextQuestionIndex: idx + 1,
	}, nil
}

// IsHost reports whether the user hosts the quiz's session.
func (s *SessionService) IsHost(ctx context.Context, quizID, userID uuid.UUID) (bool, error) {
	session, err := s.store.SessionByQuizID(ctx, quizID)
	if err != nil {
		if err == store.ErrNotFound {
			return false, ErrSessionNotFound
		}
		return false, err
	}
	return session.HostID == userID, nil
}

func (s *SessionService) publishLeaderboard(ctx context.Context, quizID uuid.UUID) {
	participants, err := s.store.TopParticipants(ctx, quizID, leaderboardSize)
	if err != nil {
		log.Printf("[session] leaderboard read for quiz %s failed: %v", quizID, err)
		return
	}

	ranks := make([]websocket.PlayerRank, len(participants))
	for i, p := range participants {
		ranks[i] = websocket.PlayerRank{
			UserID:   p.UserID.String(),
			Username: p.Username,
			Score:    p.Score,
		}
	}
	s.hub.Publish(quizID.String(), websocket.LeaderboardUpdateEvent(ranks))
}
