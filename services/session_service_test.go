package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quizmasterhq/quizmaster/models"
	"github.com/quizmasterhq/quizmaster/store"
	"github.com/quizmasterhq/quizmaster/websocket"
)

// fakeStore implements store.SessionStore in memory. Each mutation holds
// the lock for its whole conditional check plus write, mirroring the
// atomicity contract the real store gets from Postgres.
type fakeStore struct {
	mu       sync.Mutex
	quizzes  map[uuid.UUID]*models.Quiz
	sessions map[uuid.UUID]*models.QuizSession

	// stateHook, when set, runs after the locked state read and before it
	// is returned, so tests can interleave writes into the gap between a
	// caller's read and its follow-up conditional write.
	stateHook func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		quizzes:  make(map[uuid.UUID]*models.Quiz),
		sessions: make(map[uuid.UUID]*models.QuizSession),
	}
}

func (f *fakeStore) CreateQuizWithSession(_ context.Context, quiz *models.Quiz, session *models.QuizSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if quiz.ID == uuid.Nil {
		quiz.ID = uuid.New()
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	quiz.Code = "TEST42"
	session.QuizID = quiz.ID
	session.Status = models.SessionWaiting
	f.quizzes[quiz.ID] = quiz
	f.sessions[quiz.ID] = session
	return nil
}

func (f *fakeStore) QuizByID(_ context.Context, quizID uuid.UUID) (*models.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quiz, ok := f.quizzes[quizID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *quiz
	return &copied, nil
}

func (f *fakeStore) SessionByQuizID(_ context.Context, quizID uuid.UUID) (*models.QuizSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[quizID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *session
	copied.Participants = append([]models.Participant(nil), session.Participants...)
	return &copied, nil
}

func (f *fakeStore) QuizzesByCreator(_ context.Context, userID uuid.UUID) ([]models.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var quizzes []models.Quiz
	for _, quiz := range f.quizzes {
		if quiz.CreatedBy == userID {
			quizzes = append(quizzes, *quiz)
		}
	}
	return quizzes, nil
}

func (f *fakeStore) QuizzesByParticipant(_ context.Context, userID uuid.UUID) ([]models.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var quizzes []models.Quiz
	for quizID, session := range f.sessions {
		for _, p := range session.Participants {
			if p.UserID == userID {
				quizzes = append(quizzes, *f.quizzes[quizID])
				break
			}
		}
	}
	return quizzes, nil
}

func (f *fakeStore) ParticipantState(_ context.Context, quizID, userID uuid.UUID) (*store.ParticipantState, error) {
	f.mu.Lock()
	hook := f.stateHook
	session, ok := f.sessions[quizID]
	if !ok {
		f.mu.Unlock()
		return nil, store.ErrNotFound
	}
	state := &store.ParticipantState{SessionStatus: session.Status}
	for i := range session.Participants {
		if session.Participants[i].UserID == userID {
			copied := session.Participants[i]
			state.Participant = &copied
			break
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return state, nil
}

func (f *fakeStore) AppendParticipant(_ context.Context, quizID uuid.UUID, p *models.Participant, maxParticipants int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[quizID]
	if !ok {
		return store.ErrPreconditionFailed
	}
	if session.Status != models.SessionWaiting {
		return store.ErrPreconditionFailed
	}
	for _, existing := range session.Participants {
		if existing.UserID == p.UserID {
			return store.ErrPreconditionFailed
		}
	}
	if len(session.Participants) >= maxParticipants {
		return store.ErrPreconditionFailed
	}
	p.ID = uuid.New()
	p.SessionID = session.ID
	session.Participants = append(session.Participants, *p)
	return nil
}

func (f *fakeStore) MarkInProgress(_ context.Context, quizID uuid.UUID, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[quizID]
	if !ok {
		return store.ErrNotFound
	}
	if session.Status != models.SessionWaiting {
		return store.ErrPreconditionFailed
	}
	session.Status = models.SessionInProgress
	session.StartedAt = &startedAt
	return nil
}

func (f *fakeStore) RecordAnswer(_ context.Context, quizID, userID uuid.UUID, expectedIndex int, selectedOption string, isCorrect bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[quizID]
	if !ok {
		return store.ErrStaleIndex
	}
	if session.Status != models.SessionInProgress {
		return store.ErrStaleIndex
	}
	for i := range session.Participants {
		p := &session.Participants[i]
		if p.UserID != userID {
			continue
		}
		if p.CurrentQuestionIndex != expectedIndex {
			return store.ErrStaleIndex
		}
		p.Answers = append(p.Answers, models.AnswerRecord{
			ID:             uuid.New(),
			ParticipantID:  p.ID,
			QuestionIndex:  expectedIndex,
			SelectedOption: selectedOption,
			IsCorrect:      isCorrect,
		})
		p.CurrentQuestionIndex++
		if isCorrect {
			p.Score++
		}
		return nil
	}
	return store.ErrStaleIndex
}

func (f *fakeStore) TopParticipants(_ context.Context, quizID uuid.UUID, limit int) ([]models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[quizID]
	if !ok {
		return nil, nil
	}
	participants := append([]models.Participant(nil), session.Participants...)
	for i := 0; i < len(participants); i++ {
		for j := i + 1; j < len(participants); j++ {
			if participants[j].Score > participants[i].Score {
				participants[i], participants[j] = participants[j], participants[i]
			}
		}
	}
	if len(participants) > limit {
		participants = participants[:limit]
	}
	return participants, nil
}

func (f *fakeStore) participant(t *testing.T, quizID, userID uuid.UUID) models.Participant {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[quizID]
	if !ok {
		t.Fatalf("session for quiz %s missing", quizID)
	}
	for _, p := range session.Participants {
		if p.UserID == userID {
			return p
		}
	}
	t.Fatalf("participant %s missing in quiz %s", userID, quizID)
	return models.Participant{}
}

func newTestService(t *testing.T) (*SessionService, *fakeStore, *websocket.Hub) {
	t.Helper()
	fake := newFakeStore()
	hub := websocket.NewHub()
	return NewSessionService(fake, hub), fake, hub
}

func seedQuiz(t *testing.T, svc *SessionService, hostID uuid.UUID, maxParticipants, questionCount int) uuid.UUID {
	t.Helper()
	quiz := &models.Quiz{
		Title:            "Capitals",
		Topic:            "geography",
		Difficulty:       "easy",
		MaxParticipants:  maxParticipants,
		PointsPerCorrect: 1,
		DurationMinutes:  10,
		StartTime:        time.Now(),
	}
	for i := 0; i < questionCount; i++ {
		quiz.Questions = append(quiz.Questions, models.Question{
			Position:      i,
			Text:          fmt.Sprintf("question %d", i),
			Options:       pq.StringArray{"a", "b", "c", "d"},
			CorrectAnswer: "a",
		})
	}
	if _, err := svc.CreateQuiz(context.Background(), quiz, hostID); err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	return quiz.ID
}

func recvEvent(t *testing.T, client *websocket.Client) websocket.Event {
	t.Helper()
	select {
	case payload := <-client.Send:
		var ev websocket.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return websocket.Event{}
	}
}

func TestJoinUnknownQuiz(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Join(context.Background(), uuid.New(), uuid.New(), "alice")
	if err != ErrQuizNotFound {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestJoinTwiceSameUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	quizID := seedQuiz(t, svc, uuid.New(), 5, 1)
	userID := uuid.New()

	if err := svc.Join(context.Background(), quizID, userID, "alice"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := svc.Join(context.Background(), quizID, userID, "alice"); err != ErrAlreadyJoined {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestJoinAfterStart(t *testing.T) {
	svc, _, _ := newTestService(t)
	hostID := uuid.New()
	quizID := seedQuiz(t, svc, hostID, 5, 1)

	if _, err := svc.Start(context.Background(), quizID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Join(context.Background(), quizID, uuid.New(), "late"); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestJoinPublishesParticipantJoined(t *testing.T) {
	svc, _, hub := newTestService(t)
	quizID := seedQuiz(t, svc, uuid.New(), 5, 1)

	client := websocket.NewClient(uuid.New())
	hub.Subscribe(quizID.String(), client)
	defer hub.Unsubscribe(quizID.String(), client)

	userID := uuid.New()
	if err := svc.Join(context.Background(), quizID, userID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	ev := recvEvent(t, client)
	if ev.Type != "participant_joined" {
		t.Fatalf("expected participant_joined, got %q", ev.Type)
	}
	if ev.UserID != userID.String() || ev.Username != "alice" {
		t.Fatalf("unexpected event payload: %+v", ev)
	}
}

func TestConcurrentJoinsNeverOvershootCapacity(t *testing.T) {
	const capacity = 2
	const joiners = 10

	svc, fake, _ := newTestService(t)
	quizID := seedQuiz(t, svc, uuid.New(), capacity, 1)

	var wg sync.WaitGroup
	results := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- svc.Join(context.Background(), quizID, uuid.New(), fmt.Sprintf("user-%d", i))
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded, full := 0, 0
	for err := range results {
		switch err {
		case nil:
			succeeded++
		case ErrRoomFull:
			full++
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if succeeded != capacity {
		t.Fatalf("expected %d successful joins, got %d", capacity, succeeded)
	}
	if full != joiners-capacity {
		t.Fatalf("expected %d ErrRoomFull, got %d", joiners-capacity, full)
	}

	session, err := fake.SessionByQuizID(context.Background(), quizID)
	if err != nil {
		t.Fatalf("session read: %v", err)
	}
	if len(session.Participants) != capacity {
		t.Fatalf("participants = %d, want %d", len(session.Participants), capacity)
	}
}

func TestStartOnlyByHost(t *testing.T) {
	svc, _, _ := newTestService(t)
	hostID := uuid.New()
	quizID := seedQuiz(t, svc, hostID, 5, 1)

	if _, err := svc.Start(context.Background(), quizID, uuid.New()); err != ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	duration, err := svc.Start(context.Background(), quizID, hostID)
	if err != nil {
		t.Fatalf("host start: %v", err)
	}
	if duration != 10 {
		t.Fatalf("duration = %d, want 10", duration)
	}

	if _, err := svc.Start(context.Background(), quizID, hostID); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition on second start, got %v", err)
	}
}

func TestStartPublishesQuizStart(t *testing.T) {
	svc, _, hub := newTestService(t)
	hostID := uuid.New()
	quizID := seedQuiz(t, svc, hostID, 5, 1)

	client := websocket.NewClient(uuid.New())
	hub.Subscribe(quizID.String(), client)
	defer hub.Unsubscribe(quizID.String(), client)

	if _, err := svc.Start(context.Background(), quizID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}

	ev := recvEvent(t, client)
	if ev.Type != "quiz_start" {
		t.Fatalf("expected quiz_start, got %q", ev.Type)
	}
	if ev.Duration != 10 {
		t.Fatalf("duration = %d, want 10", ev.Duration)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	hostID := uuid.New()
	quizID := seedQuiz(t, svc, hostID, 5, 1)
	userID := uuid.New()

	if _, err := svc.Submit(context.Background(), quizID, userID, ""); err != ErrAnswerRequired {
		t.Fatalf("expected ErrAnswerRequired, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), quizID, userID, "a"); err != ErrNotInProgress {
		t.Fatalf("expected ErrNotInProgress before start, got %v", err)
	}

	if err := svc.Join(context.Background(), quizID, userID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Start(context.Background(), quizID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.Submit(context.Background(), quizID, uuid.New(), "a"); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestSubmitScoresAndAdvances(t *testing.T) {
	svc, fake, _ := newTestService(t)
	hostID := uuid.New()
	quizID := seedQuiz(t, svc, hostID, 5, 3)
	userID := uuid.New()

	if err := svc.Join(context.Background(), quizID, userID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Start(context.Background(), quizID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// correct, wrong, correct
	answers := []string{"a", "b", "a"}
	for i, answer := range answers {
		result, err := svc.Submit(context.Background(), quizID, userID, answer)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if result.NextQuestionIndex != i+1 {
			t.Fatalf("next index = %d, want %d", result.NextQuestionIndex, i+1)
		}
		if result.CorrectAnswer != "a" {
			t.Fatalf("correct answer = %q, want %q", result.CorrectAnswer, "a")
		}
		if result.IsCorrect != (answer == "a") {
			t.Fatalf("submit %d: is_correct = %v", i, result.IsCorrect)
		}
	}

	p := fake.participant(t, quizID, userID)
	correct := 0
	for _, rec := range p.Answers {
		if rec.IsCorrect {
			correct++
		}
	}
	if p.Score != correct {
		t.Fatalf("score %d != correct-count %d", p.Score, correct)
	}
	if p.Score != 2 {
		t.Fatalf("score = %d, want 2", p.Score)
	}
	if p.CurrentQuestionIndex != 3 {
		t.Fatalf("index = %d, want 3", p.CurrentQuestionIndex)
	}

	if _, err := svc.Submit(context.Background(), quizID, userID, "a"); err != ErrNoQuestionsLeft {
		t.Fatalf("expected ErrNoQuestionsLeft, got %v", err)
	}
}

func TestConcurrentSubmitsResolveToOneAnswer(t *testing.T) {
	svc, fake, _ := newTestService(t)
	hostID := uuid.New()
	quizID := seedQuiz(t, svc, hostID, 5, 2)
	userID := uuid.New()

	if err := svc.Join(context.Background(), quizID, userID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Start(context.Background(), quizID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Both submissions rendezvous after their state read, so both hold
	// question index 0 before either writes.
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	fake.stateHook = func() {
		barrier.Done()
		barrier.Wait()
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), quizID, userID, "a")
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	fake.stateHook = nil

	succeeded, conflicted := 0, 0
	for err := range results {
		switch err {
		case nil:
			succeeded++
		case ErrAnswerConflict:
			conflicted++
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("got %d successes and %d conflicts, want exactly 1 and 1", succeeded, conflicted)
	}

	p := fake.participant(t, quizID, userID)
	if len(p.Answers) != 1 {
		t.Fatalf("answer records = %d, want 1", len(p.Answers))
	}
	if p.Answers[0].QuestionIndex != 0 {
		t.Fatalf("answer index = %d, want 0", p.Answers[0].QuestionIndex)
	}
	if p.CurrentQuestionIndex != 1 {
		t.Fatalf("index = %d, want 1", p.CurrentQuestionIndex)
	}

	view, err := svc.CurrentQuestion(context.Background(), quizID, userID)
	if err != nil {
		t.Fatalf("current question: %v", err)
	}
	if view.QuestionIndex != 1 {
		t.Fatalf("current question index = %d, want 1", view.QuestionIndex)
	}
}

func TestSubmitRacingCompletionConflicts(t *testing.T) {
	svc, fake, _ := newTestService(t)
	hostID := uuid.New()
	quizID := seedQuiz(t, svc, hostID, 5, 1)
	userID := uuid.New()

	if err := svc.Join(context.Background(), quizID, userID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Start(context.Background(), quizID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The session completes after the submit reads in_progress state but
	// before its conditional write; the write must miss, not land on a
	// completed session.
	fake.stateHook = func() {
		fake.mu.Lock()
		fake.sessions[quizID].Status = models.SessionCompleted
		fake.mu.Unlock()
	}

	_, err := svc.Submit(context.Background(), quizID, userID, "a")
	fake.stateHook = nil
	if err != ErrAnswerConflict {
		t.Fatalf("expected ErrAnswerConflict, got %v", err)
	}

	p := fake.participant(t, quizID, userID)
	if len(p.Answers) != 0 || p.Score != 0 || p.CurrentQuestionIndex != 0 {
		t.Fatalf("completed session accepted an answer: %+v", p)
	}
}

func TestSubmitPublishesLeaderboard(t *testing.T) {
	svc, _, hub := newTestService(t)
	hostID := uuid.New()
	quizID := seedQuiz(t, svc, hostID, 5, 1)
	userID := uuid.New()

	if err := svc.Join(context.Background(), quizID, userID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Start(context.Background(), quizID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}

	client := websocket.NewClient(uuid.New())
	hub.Subscribe(quizID.String(), client)
	defer hub.Unsubscribe(quizID.String(), client)

	if _, err := svc.Submit(context.Background(), quizID, userID, "a"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ev := recvEvent(t, client)
	if ev.Type != "leaderboard_update" {
		t.Fatalf("expected leaderboard_update, got %q", ev.Type)
	}
	if len(ev.TopPlayers) != 1 || ev.TopPlayers[0].Score != 1 || ev.TopPlayers[0].Username != "alice" {
		t.Fatalf("unexpected leaderboard: %+v", ev.TopPlayers)
	}
}

func TestFullRoomScenario(t *testing.T) {
	svc, _, _ := newTestService(t)
	hostID := uuid.New()
	quizID := seedQuiz(t, svc, hostID, 2, 2)

	userA, userB, userC := uuid.New(), uuid.New(), uuid.New()
	if err := svc.Join(context.Background(), quizID, userA, "a"); err != nil {
		t.Fatalf("join A: %v", err)
	}
	if err := svc.Join(context.Background(), quizID, userB, "b"); err != nil {
		t.Fatalf("join B: %v", err)
	}
	if err := svc.Join(context.Background(), quizID, userC, "c"); err != ErrRoomFull {
		t.Fatalf("expected ErrRoomFull for C, got %v", err)
	}

	if _, err := svc.Start(context.Background(), quizID, hostID); err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := svc.Submit(context.Background(), quizID, userA, "a")
	if err != nil {
		t.Fatalf("submit A: %v", err)
	}
	if !result.IsCorrect || result.NextQuestionIndex != 1 {
		t.Fatalf("unexpected submit result: %+v", result)
	}

	view, err := svc.CurrentQuestion(context.Background(), quizID, userA)
	if err != nil {
		t.Fatalf("current question: %v", err)
	}
	if view.QuestionIndex != 1 || view.TotalQuestions != 2 {
		t.Fatalf("unexpected question view: %+v", view)
	}
}
