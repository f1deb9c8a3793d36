package main

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"

	config "github.com/quizmasterhq/quizmaster/configs"
	"github.com/quizmasterhq/quizmaster/database"
	"github.com/quizmasterhq/quizmaster/handlers"
	"github.com/quizmasterhq/quizmaster/jobs"
	"github.com/quizmasterhq/quizmaster/routes"
	"github.com/quizmasterhq/quizmaster/services"
	"github.com/quizmasterhq/quizmaster/store"
	"github.com/quizmasterhq/quizmaster/websocket"
)

func main() {
	database.ConnectDB()
	database.Migrate()

	hub := websocket.NewHub()
	sessionStore := store.NewGormSessionStore(database.DB)
	sessionService := services.NewSessionService(sessionStore, hub)

	quizHandler := handlers.NewQuizHandler(sessionService)
	wsHandler := handlers.NewWsHandler(sessionService, hub)

	c := cron.New()
	if _, err := c.AddFunc(config.Config("SESSION_SWEEP_SPEC"), jobs.CompleteExpiredSessions); err != nil {
		log.Fatalf("🔥 Failed to schedule session sweep: %v", err)
	}
	c.Start()
	log.Println("✅ Cron job for session expiry scheduled successfully.")

	app := fiber.New(fiber.Config{
		AppName:       "Quizmaster",
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Printf("[ERROR] %v | Path: %s | Method: %s", err, c.Path(), c.Method())
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    code,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  config.Config("ALLOW_ORIGINS"),
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
	}))

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.AuthRoutes(app)
	routes.QuizRoutes(app, quizHandler, wsHandler)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})

	port := config.Config("PORT")
	log.Printf("✅ Server is running on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("🔥 Server failed to start: %v", err)
	}
}
