package jobs

import (
	"log"
	"time"

	"github.com/quizmasterhq/quizmaster/database"
	"github.com/quizmasterhq/quizmaster/models"
)

// CompleteExpiredSessions marks in-progress sessions whose advertised
// duration has elapsed as completed. The session engine itself never
// enforces the duration; this job is the external completion trigger, so
// a quiz does not stay in_progress forever.
func CompleteExpiredSessions() {
	res := database.DB.Exec(`
		UPDATE quiz_sessions s
		SET status = ?
		FROM quizzes q
		WHERE s.quiz_id = q.id
		  AND s.status = ?
		  AND s.started_at + make_interval(mins => q.duration_minutes) < ?`,
		models.SessionCompleted, models.SessionInProgress, time.Now().UTC(),
	)
	if res.Error != nil {
		log.Printf("Error completing expired sessions: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		log.Printf("Marked %d quiz session(s) as completed.", res.RowsAffected)
	}
}
