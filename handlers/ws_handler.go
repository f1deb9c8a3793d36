package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"

	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	config "github.com/quizmasterhq/quizmaster/configs"
	"github.com/quizmasterhq/quizmaster/services"
	ws "github.com/quizmasterhq/quizmaster/websocket"
)

// Close codes sent before rejecting a connection. 4401 is deliberately
// distinct from the RFC range so clients can tell auth failures apart
// from transport errors.
const (
	closeUnauthenticated = 4401
	closeNotFound        = 4404
)

// WsHandler is the realtime gateway: it authenticates the connecting
// client, resolves the host role once, ties the hub subscription to the
// connection lifetime and relays the one inbound action (start_quiz).
type WsHandler struct {
	svc *services.SessionService
	hub *ws.Hub
}

func NewWsHandler(svc *services.SessionService, hub *ws.Hub) *WsHandler {
	return &WsHandler{svc: svc, hub: hub}
}

type inboundAction struct {
	Action   string `json:"action"`
	Duration int    `json:"duration,omitempty"`
}

func (h *WsHandler) ServeQuizWs(c *websocketcontrib.Conn) {
	defer c.Close()

	quizID, err := uuid.Parse(c.Params("quizId"))
	if err != nil {
		rejectConn(c, closeNotFound, "unknown quiz")
		return
	}

	userID, err := authenticateConn(c)
	if err != nil {
		log.Printf("[gateway] rejecting quiz %s connection: %v", quizID, err)
		rejectConn(c, closeUnauthenticated, "unauthenticated")
		return
	}

	// Host role is resolved once at connect time; the state machine
	// re-checks on Start regardless.
	isHost, err := h.svc.IsHost(context.Background(), quizID, userID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			rejectConn(c, closeNotFound, "unknown quiz")
		} else {
			log.Printf("[gateway] host lookup for quiz %s failed: %v", quizID, err)
			rejectConn(c, websocketcontrib.CloseInternalServerErr, "internal error")
		}
		return
	}

	client := ws.NewClient(userID)
	h.hub.Subscribe(quizID.String(), client)
	defer h.hub.Unsubscribe(quizID.String(), client)

	go writePump(c, client)

	for {
		var msg inboundAction
		if err := c.ReadJSON(&msg); err != nil {
			if websocketcontrib.IsUnexpectedCloseError(err, websocketcontrib.CloseGoingAway, websocketcontrib.CloseNormalClosure) {
				log.Printf("[gateway] read error for client %s on quiz %s: %v", userID, quizID, err)
			}
			return
		}

		switch msg.Action {
		case "start_quiz":
			if !isHost {
				client.Deliver(ws.ErrorEvent("only the host can start the quiz"))
				continue
			}
			if _, err := h.svc.Start(context.Background(), quizID, userID); err != nil {
				client.Deliver(ws.ErrorEvent(err.Error()))
			}
		default:
			client.Deliver(ws.ErrorEvent("unknown action"))
		}
	}
}

// writePump drains the client's send channel onto the socket. It exits
// when the hub unsubscribes the client and closes the channel.
func writePump(c *websocketcontrib.Conn, client *ws.Client) {
	for payload := range client.Send {
		if err := c.WriteMessage(websocketcontrib.TextMessage, payload); err != nil {
			log.Printf("[gateway] write error for client %s: %v", client.UserID, err)
			c.Close()
			return
		}
	}
}

// authenticateConn resolves the caller from the access_token cookie or a
// token query parameter.
func authenticateConn(c *websocketcontrib.Conn) (uuid.UUID, error) {
	tokenString := c.Cookies("access_token")
	if tokenString == "" {
		tokenString = c.Query("token")
	}
	if tokenString == "" {
		return uuid.Nil, errors.New("no credentials presented")
	}

	claims, err := parseToken(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	rawID, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user_id claim: %w", err)
	}
	return userID, nil
}

func rejectConn(c *websocketcontrib.Conn, code int, reason string) {
	_ = c.WriteMessage(websocketcontrib.CloseMessage,
		websocketcontrib.FormatCloseMessage(code, reason))
}

func parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.Config("JWT_SECRET")), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
