package services

import "errors"

// Session operation failures. Handlers map these onto HTTP statuses; the
// service never retries. After ErrAnswerConflict the client is expected
// to refetch its current question before resubmitting.
var (
	ErrQuizNotFound    = errors.New("quiz not found")
	ErrSessionNotFound = errors.New("quiz session not found")

	ErrAlreadyStarted = errors.New("cannot join, quiz already started")
	ErrAlreadyJoined  = errors.New("user already joined the quiz")
	ErrRoomFull       = errors.New("quiz is full")
	ErrJoinFailed     = errors.New("could not join quiz")

	ErrNotHost           = errors.New("only the host can start the quiz")
	ErrInvalidTransition = errors.New("quiz has already been started")

	ErrNotInProgress   = errors.New("quiz is not in progress")
	ErrNotParticipant  = errors.New("user is not a participant in this quiz")
	ErrNoQuestionsLeft = errors.New("no more questions left")
	ErrAnswerRequired  = errors.New("answer is required")
	ErrAnswerConflict  = errors.New("answer already submitted for this question")
)
