package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quizmasterhq/quizmaster/models"
	"github.com/quizmasterhq/quizmaster/utils"
)

// GormSessionStore implements SessionStore on Postgres. The conditional
// mutations are single SQL statements so the database decides every race:
// the join predicate locks the session row while it checks status,
// membership and capacity, and the answer path is a compare-and-swap on
// current_question_index backed by the unique answer index.
type GormSessionStore struct {
	db *gorm.DB
}

func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

func (s *GormSessionStore) CreateQuizWithSession(ctx context.Context, quiz *models.Quiz, session *models.QuizSession) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, err := utils.GenerateUniqueQuizCode(tx)
		if err != nil {
			return err
		}
		quiz.Code = code

		if err := tx.Create(quiz).Error; err != nil {
			return err
		}

		session.QuizID = quiz.ID
		session.Status = models.SessionWaiting
		return tx.Create(session).Error
	})
}

func (s *GormSessionStore) QuizByID(ctx context.Context, quizID uuid.UUID) (*models.Quiz, error) {
	var quiz models.Quiz
	err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		First(&quiz, "id = ?", quizID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &quiz, nil
}

func (s *GormSessionStore) SessionByQuizID(ctx context.Context, quizID uuid.UUID) (*models.QuizSession, error) {
	var session models.QuizSession
	err := s.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at asc") }).
		Preload("Participants.Answers", func(db *gorm.DB) *gorm.DB { return db.Order("question_index asc") }).
		First(&session, "quiz_id = ?", quizID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *GormSessionStore) QuizzesByCreator(ctx context.Context, userID uuid.UUID) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Where("created_by = ?", userID).
		Order("created_at desc").
		Find(&quizzes).Error
	return quizzes, err
}

func (s *GormSessionStore) QuizzesByParticipant(ctx context.Context, userID uuid.UUID) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	err := s.db.WithContext(ctx).
		Joins("JOIN quiz_sessions ON quiz_sessions.quiz_id = quizzes.id").
		Joins("JOIN participants ON participants.session_id = quiz_sessions.id AND participants.user_id = ?", userID).
		Order("quizzes.created_at desc").
		Find(&quizzes).Error
	return quizzes, err
}

func (s *GormSessionStore) ParticipantState(ctx context.Context, quizID, userID uuid.UUID) (*ParticipantState, error) {
	var session models.QuizSession
	err := s.db.WithContext(ctx).
		Select("id", "status").
		First(&session, "quiz_id = ?", quizID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	state := &ParticipantState{SessionStatus: session.Status}

	var participant models.Participant
	err = s.db.WithContext(ctx).
		First(&participant, "session_id = ? AND user_id = ?", session.ID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return state, nil
		}
		return nil, err
	}
	state.Participant = &participant
	return state, nil
}

func (s *GormSessionStore) AppendParticipant(ctx context.Context, quizID uuid.UUID, p *models.Participant, maxParticipants int) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The session row lock must be taken in its own statement. The
		// insert below then starts on a fresh snapshot, so its membership
		// and capacity subqueries see any join that committed while this
		// transaction waited on the lock. Folding the lock into the insert
		// would leave those subqueries reading the pre-wait snapshot.
		var session models.QuizSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&session, "quiz_id = ?", quizID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPreconditionFailed
			}
			return err
		}

		res := tx.Exec(`
			INSERT INTO participants (id, session_id, user_id, username, score, current_question_index, joined_at)
			SELECT ?, s.id, ?, ?, 0, 0, ?
			FROM quiz_sessions s
			WHERE s.quiz_id = ?
			  AND s.status = ?
			  AND NOT EXISTS (
				SELECT 1 FROM participants p WHERE p.session_id = s.id AND p.user_id = ?
			  )
			  AND (SELECT count(*) FROM participants p WHERE p.session_id = s.id) < ?`,
			p.ID, p.UserID, p.Username, p.JoinedAt,
			quizID, models.SessionWaiting, p.UserID, maxParticipants,
		)
		if res.Error != nil {
			// A racing same-user insert can still trip the
			// (session_id, user_id) unique index; that is the uniqueness
			// precondition failing, not a storage fault.
			if isDuplicateKey(res.Error) {
				return ErrPreconditionFailed
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPreconditionFailed
		}
		return nil
	})
}

// isDuplicateKey matches a unique constraint violation whether or not the
// GORM error translator saw it first.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	// 23505 is unique_violation.
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *GormSessionStore) MarkInProgress(ctx context.Context, quizID uuid.UUID, startedAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.QuizSession{}).
		Where("quiz_id = ? AND status = ?", quizID, models.SessionWaiting).
		Updates(map[string]interface{}{"status": models.SessionInProgress, "started_at": startedAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.QuizSession{}).Where("quiz_id = ?", quizID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrPreconditionFailed
	}
	return nil
}

func (s *GormSessionStore) RecordAnswer(ctx context.Context, quizID, userID uuid.UUID, expectedIndex int, selectedOption string, isCorrect bool) error {
	scoreDelta := 0
	if isCorrect {
		scoreDelta = 1
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The compare-and-swap: only the one caller whose expectedIndex
		// still matches advances the participant. A concurrent duplicate
		// matches zero rows and the whole transaction rolls back. The
		// status condition closes the window where the expiry sweep
		// completes the session between the caller's read and this write.
		res := tx.Exec(`
			UPDATE participants p
			SET current_question_index = p.current_question_index + 1,
			    score = p.score + ?
			FROM quiz_sessions s
			WHERE p.session_id = s.id
			  AND s.quiz_id = ?
			  AND s.status = ?
			  AND p.user_id = ?
			  AND p.current_question_index = ?`,
			scoreDelta, quizID, models.SessionInProgress, userID, expectedIndex,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleIndex
		}

		return tx.Exec(`
			INSERT INTO answer_records (id, participant_id, question_index, selected_option, is_correct)
			SELECT ?, p.id, ?, ?, ?
			FROM participants p
			JOIN quiz_sessions s ON p.session_id = s.id
			WHERE s.quiz_id = ? AND p.user_id = ?`,
			uuid.New(), expectedIndex, selectedOption, isCorrect,
			quizID, userID,
		).Error
	})
}

func (s *GormSessionStore) TopParticipants(ctx context.Context, quizID uuid.UUID, limit int) ([]models.Participant, error) {
	var participants []models.Participant
	err := s.db.WithContext(ctx).
		Joins("JOIN quiz_sessions ON quiz_sessions.id = participants.session_id").
		Where("quiz_sessions.quiz_id = ?", quizID).
		Order("participants.score desc, participants.joined_at asc").
		Limit(limit).
		Find(&participants).Error
	return participants, err
}
