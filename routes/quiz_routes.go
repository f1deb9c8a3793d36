package routes

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/quizmasterhq/quizmaster/handlers"
	"github.com/quizmasterhq/quizmaster/middleware"
)

func QuizRoutes(app *fiber.App, h *handlers.QuizHandler, ws *handlers.WsHandler) {
	api := app.Group("/api/v1")

	quizzes := api.Group("/quizzes", middleware.Protected())
	quizzes.Post("", h.CreateQuiz)
	quizzes.Get("/created", h.ListCreatedQuizzes)
	quizzes.Get("/enrolled", h.ListEnrolledQuizzes)
	quizzes.Get("/:quizId", h.GetQuiz)
	quizzes.Post("/:quizId/join", h.JoinQuiz)
	quizzes.Post("/:quizId/start", h.StartQuiz)
	quizzes.Get("/:quizId/question", h.GetCurrentQuestion)
	quizzes.Post("/:quizId/submit", h.SubmitAnswer)

	// Gateway authenticates the socket itself (cookie or token query),
	// so the upgrade route sits outside the JWT middleware.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})
	app.Get("/ws/quiz/:quizId", websocket.New(ws.ServeQuizWs))
}
