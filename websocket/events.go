package websocket

// Event is the wire shape pushed to subscribed quiz clients. Exactly one
// of the optional fields is set depending on Type.
type Event struct {
	Type       string       `json:"type"`
	Duration   int          `json:"duration,omitempty"`
	TopPlayers []PlayerRank `json:"top_players,omitempty"`
	UserID     string       `json:"user_id,omitempty"`
	Username   string       `json:"username,omitempty"`
	Message    string       `json:"message,omitempty"`
}

type PlayerRank struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

func QuizStartEvent(durationMinutes int) Event {
	return Event{Type: "quiz_start", Duration: durationMinutes}
}

func LeaderboardUpdateEvent(topPlayers []PlayerRank) Event {
	return Event{Type: "leaderboard_update", TopPlayers: topPlayers}
}

func ParticipantJoinedEvent(userID, username string) Event {
	return Event{Type: "participant_joined", UserID: userID, Username: username}
}

func ErrorEvent(message string) Event {
	return Event{Type: "error", Message: message}
}
