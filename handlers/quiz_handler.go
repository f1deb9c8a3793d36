package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quizmasterhq/quizmaster/models"
	"github.com/quizmasterhq/quizmaster/services"
)

// QuizHandler exposes the quiz and session operations over REST. All
// session mutations go through the SessionService; the handler only
// parses, validates and maps errors onto statuses.
type QuizHandler struct {
	svc *services.SessionService
}

func NewQuizHandler(svc *services.SessionService) *QuizHandler {
	return &QuizHandler{svc: svc}
}

type QuestionRequest struct {
	Question      string   `json:"question" validate:"required"`
	Options       []string `json:"options" validate:"required,len=4,dive,required"`
	CorrectAnswer string   `json:"correct_answer" validate:"required"`
	Explanation   string   `json:"explanation"`
}

type CreateQuizRequest struct {
	Title            string            `json:"title" validate:"required,max=255"`
	Description      string            `json:"description"`
	Topic            string            `json:"topic" validate:"required,max=100"`
	Difficulty       string            `json:"difficulty" validate:"required,max=50"`
	MaxParticipants  int               `json:"max_participants" validate:"required,gt=0"`
	PointsPerCorrect int               `json:"points_per_correct" validate:"required,gt=0"`
	DurationMinutes  int               `json:"duration_minutes" validate:"required,gt=0"`
	StartTime        time.Time         `json:"start_time" validate:"required"`
	Questions        []QuestionRequest `json:"questions" validate:"required,min=1,dive"`
}

func (h *QuizHandler) CreateQuiz(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	var req CreateQuizRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	for i, q := range req.Questions {
		if !contains(q.Options, q.CorrectAnswer) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("correct_answer of question %d must be one of its options", i),
			})
		}
	}

	quiz := &models.Quiz{
		Title:            req.Title,
		Description:      req.Description,
		Topic:            req.Topic,
		Difficulty:       req.Difficulty,
		MaxParticipants:  req.MaxParticipants,
		PointsPerCorrect: req.PointsPerCorrect,
		DurationMinutes:  req.DurationMinutes,
		StartTime:        req.StartTime,
	}
	for i, q := range req.Questions {
		quiz.Questions = append(quiz.Questions, models.Question{
			Position:      i,
			Text:          q.Question,
			Options:       pq.StringArray(q.Options),
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
		})
	}

	session, err := h.svc.CreateQuiz(c.UserContext(), quiz, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create quiz"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "Quiz created",
		"quiz_id":    quiz.ID,
		"session_id": session.ID,
		"code":       quiz.Code,
	})
}

func (h *QuizHandler) GetQuiz(c *fiber.Ctx) error {
	quizID, err := uuid.Parse(c.Params("quizId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Quiz not found"})
	}

	quiz, session, err := h.svc.Snapshot(c.UserContext(), quizID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"quiz": quiz, "session": session})
}

func (h *QuizHandler) ListCreatedQuizzes(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	quizzes, sessions, err := h.svc.CreatedQuizzes(c.UserContext(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch quizzes"})
	}
	return c.JSON(fiber.Map{"quizzes": summarize(quizzes, sessions)})
}

func (h *QuizHandler) ListEnrolledQuizzes(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	quizzes, sessions, err := h.svc.EnrolledQuizzes(c.UserContext(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch quizzes"})
	}
	return c.JSON(fiber.Map{"quizzes": summarize(quizzes, sessions)})
}

func (h *QuizHandler) JoinQuiz(c *fiber.Ctx) error {
	userID, username := currentUser(c)

	quizID, err := uuid.Parse(c.Params("quizId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Quiz not found"})
	}

	if err := h.svc.Join(c.UserContext(), quizID, userID, username); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Joined the quiz successfully"})
}

func (h *QuizHandler) StartQuiz(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	quizID, err := uuid.Parse(c.Params("quizId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Quiz not found"})
	}

	duration, err := h.svc.Start(c.UserContext(), quizID, userID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Quiz started successfully", "duration_minutes": duration})
}

func (h *QuizHandler) GetCurrentQuestion(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	quizID, err := uuid.Parse(c.Params("quizId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Quiz not found"})
	}

	view, err := h.svc.CurrentQuestion(c.UserContext(), quizID, userID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(view)
}

type SubmitAnswerRequest struct {
	Answer string `json:"answer"`
}

func (h *QuizHandler) SubmitAnswer(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	quizID, err := uuid.Parse(c.Params("quizId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Quiz not found"})
	}

	var req SubmitAnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}

	result, err := h.svc.Submit(c.UserContext(), quizID, userID, req.Answer)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(result)
}

// serviceError translates session errors onto the REST status contract.
func serviceError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	detail := err.Error()

	switch err {
	case services.ErrQuizNotFound, services.ErrSessionNotFound:
		status = fiber.StatusNotFound
	case services.ErrNotHost, services.ErrNotParticipant:
		status = fiber.StatusForbidden
	case services.ErrAnswerConflict, services.ErrInvalidTransition:
		status = fiber.StatusConflict
	case services.ErrAlreadyStarted, services.ErrAlreadyJoined, services.ErrRoomFull,
		services.ErrJoinFailed, services.ErrNotInProgress, services.ErrNoQuestionsLeft,
		services.ErrAnswerRequired:
		status = fiber.StatusBadRequest
	default:
		detail = "Internal server error"
	}
	return c.Status(status).JSON(fiber.Map{"error": detail})
}

// QuizSummary is the merged quiz+session listing shape.
type QuizSummary struct {
	ID               uuid.UUID            `json:"id"`
	Code             string               `json:"code"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	Topic            string               `json:"topic"`
	Difficulty       string               `json:"difficulty"`
	MaxParticipants  int                  `json:"max_participants"`
	PointsPerCorrect int                  `json:"points_per_correct"`
	DurationMinutes  int                  `json:"duration_minutes"`
	StartTime        time.Time            `json:"start_time"`
	QuestionCount    int                  `json:"question_count"`
	HostID           uuid.UUID            `json:"host_id"`
	Status           string               `json:"status,omitempty"`
	Participants     []models.Participant `json:"participants"`
	CreatedAt        time.Time            `json:"created_at"`
}

func summarize(quizzes []models.Quiz, sessions map[uuid.UUID]*models.QuizSession) []QuizSummary {
	summaries := make([]QuizSummary, 0, len(quizzes))
	for _, quiz := range quizzes {
		summary := QuizSummary{
			ID:               quiz.ID,
			Code:             quiz.Code,
			Title:            quiz.Title,
			Description:      quiz.Description,
			Topic:            quiz.Topic,
			Difficulty:       quiz.Difficulty,
			MaxParticipants:  quiz.MaxParticipants,
			PointsPerCorrect: quiz.PointsPerCorrect,
			DurationMinutes:  quiz.DurationMinutes,
			StartTime:        quiz.StartTime,
			QuestionCount:    len(quiz.Questions),
			HostID:           quiz.CreatedBy,
			Participants:     []models.Participant{},
			CreatedAt:        quiz.CreatedAt,
		}
		if session, ok := sessions[quiz.ID]; ok {
			summary.Status = session.Status
			if session.Participants != nil {
				summary.Participants = session.Participants
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func contains(options []string, answer string) bool {
	for _, opt := range options {
		if opt == answer {
			return true
		}
	}
	return false
}
