package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"arena-service/internal/app"
	"arena-service/internal/domain"

	"github.com/gorilla/websocket"
)

// WSHandler exposes the session engine over one websocket per channel: the
// presentation layer drives contests with inbound commands and receives
// lifecycle events as they happen.
type WSHandler struct {
	engine   *app.SessionEngine
	events   *app.Broadcaster
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.SessionEngine, events *app.Broadcaster, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		engine: engine,
		events: events,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Kind            domain.Kind    `json:"kind"`
	Content         domain.Content `json:"content"`
	DurationSeconds int            `json:"durationSeconds"`
}

type submitPayload struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	ChosenIndex int    `json:"chosenIndex"`
	Text        string `json:"text,omitempty"`
}

type sessionRefPayload struct {
	SessionID string `json:"sessionId"`
}

type leaderboardPayload struct {
	Limit int `json:"limit"`
}

type profilePayload struct {
	UserID string `json:"userId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// contest use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guildId")
	channelID := r.URL.Query().Get("channelId")
	if guildID == "" || channelID == "" {
		http.Error(w, "missing guildId or channelId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events, cancel := h.events.Subscribe(guildID, channelID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", slog.String("error", err.Error()))
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "event", Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r, guildID, channelID, inbound, send)
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, guildID, channelID string, inbound inboundMessage, send chan<- outboundMessage[any]) {
	ctx := r.Context()
	fail := func(err error) {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{
			Code:    domain.CodeOf(err),
			Message: err.Error(),
		}}
	}

	switch inbound.Type {
	case "start":
		var payload startPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrInvalidContent)
			return
		}
		session, err := h.engine.Start(ctx, guildID, channelID, payload.Kind, payload.Content, payload.DurationSeconds)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "session", Payload: session}

	case "submit":
		var payload submitPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrInvalidContent)
			return
		}
		result, err := h.engine.Submit(ctx, payload.SessionID, payload.UserID, domain.Submission{
			ChosenIndex: payload.ChosenIndex,
			Text:        payload.Text,
		})
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "submitResult", Payload: result}

	case "reveal":
		var payload sessionRefPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrInvalidContent)
			return
		}
		summary, err := h.engine.Reveal(ctx, payload.SessionID)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "summary", Payload: summary}

	case "cancel":
		var payload sessionRefPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrInvalidContent)
			return
		}
		if err := h.engine.Cancel(ctx, payload.SessionID); err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "cancelled", Payload: sessionRefPayload{SessionID: payload.SessionID}}

	case "leaderboard":
		var payload leaderboardPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrInvalidContent)
			return
		}
		profiles, err := h.engine.Leaderboard(ctx, guildID, payload.Limit)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "leaderboard", Payload: profiles}

	case "profile":
		var payload profilePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrInvalidContent)
			return
		}
		profile, err := h.engine.GetProfile(ctx, guildID, payload.UserID)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "profile", Payload: profile}

	default:
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{
			Code:    domain.CodeValidation,
			Message: "unsupported message type",
		}}
	}
}
