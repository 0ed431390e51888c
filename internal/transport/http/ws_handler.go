package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"echoes-history-service/internal/app"
	"echoes-history-service/internal/domain"
	"echoes-history-service/internal/logger"
	"github.com/gorilla/websocket"
)

// WSHandler runs one quiz session per websocket connection.
type WSHandler struct {
	service  *app.HistoryService
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func NewWSHandler(service *app.HistoryService, log *logger.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.OrNop(log).With("component", "ws"),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	OptionIndex *int `json:"optionIndex"`
}

type keyPayload struct {
	Key   string `json:"key"`
	Shift bool   `json:"shift"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// questionView hides the answer key from the client.
type questionView struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	TimeLimitMs int      `json:"timeLimitMs,omitempty"`
}

type startedPayload struct {
	SessionID   string             `json:"sessionId"`
	EventID     string             `json:"eventId"`
	Current     int                `json:"current"`
	Questions   []questionView     `json:"questions"`
	Answers     []app.AnswerRecord `json:"answers"`
	RemainingMs int64              `json:"remainingMs"`
	TotalMs     int64              `json:"totalMs"`
	Focus       string             `json:"focus"`
}

type focusPayload struct {
	Control string `json:"control"`
}

// ServeWS upgrades /ws/quiz?userId=&eventId= and drives the attempt. Closing
// the connection suspends the attempt so it can be resumed later.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, _ := authenticatedUser(r)
	eventID := r.URL.Query().Get("eventId")
	if userID == "" || eventID == "" {
		http.Error(w, "missing userId or eventId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session, err := h.service.StartQuiz(r.Context(), userID, eventID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: userMessage(err)}})
		return
	}
	if session.State() == app.StateNoBank {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "noBank", Payload: errorPayload{Message: "Sự kiện này chưa có câu hỏi trắc nghiệm."}})
		return
	}
	sessionID := session.ID()
	defer h.service.Suspend(sessionID)

	updates, cancel := session.Subscribe()
	defer cancel()

	snap := session.Snapshot()
	focus := app.NewFocusTrap(controlsFor(snap)...)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", "session_id", sessionID, "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				if ev.Type == app.EventStarted {
					continue
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Type), Payload: ev}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "started", Payload: startedView(snap, focus.Current())}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if reply, ok := h.handle(r.Context(), sessionID, focus, inbound); ok {
			send <- reply
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// handle applies one client message; the second result reports whether a
// direct reply is due. Session state changes reach the client as events.
func (h *WSHandler) handle(ctx context.Context, sessionID string, focus *app.FocusTrap, inbound inboundMessage) (outboundMessage[any], bool) {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.OptionIndex == nil {
			return errorMessage(errInvalidPayload), true
		}
		if _, err := h.service.Answer(sessionID, *payload.OptionIndex); err != nil {
			return errorMessage(err), true
		}
	case "next":
		if err := h.service.Next(sessionID); err != nil {
			return errorMessage(err), true
		}
	case "key":
		var payload keyPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage(errInvalidPayload), true
		}
		if session, err := h.service.Session(sessionID); err == nil {
			focus.SetControls(controlsFor(session.Snapshot())...)
		}
		action, control := focus.HandleKey(payload.Key, payload.Shift)
		switch action {
		case app.FocusClose:
			if err := h.service.Abandon(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
				return errorMessage(err), true
			}
		case app.FocusMove:
			return outboundMessage[any]{Type: "focus", Payload: focusPayload{Control: control}}, true
		case app.FocusIgnore:
		}
	default:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "Loại thông điệp không được hỗ trợ."}}, true
	}
	return outboundMessage[any]{}, false
}

// controlsFor lists the focusable controls of the quiz view in tab order.
func controlsFor(snap app.SessionSnapshot) []string {
	controls := []string{}
	if snap.Current < len(snap.Questions) {
		for i := range snap.Questions[snap.Current].Options {
			controls = append(controls, "option-"+strconv.Itoa(i))
		}
	}
	if snap.Revealed {
		controls = append(controls, "next")
	}
	return append(controls, "close")
}

func startedView(snap app.SessionSnapshot, focus string) startedPayload {
	questions := make([]questionView, len(snap.Questions))
	for i, q := range snap.Questions {
		questions[i] = questionView{ID: q.ID, Prompt: q.Prompt, Options: q.Options, TimeLimitMs: q.TimeLimitMs}
	}
	answers := make([]app.AnswerRecord, len(snap.Answers))
	for i, a := range snap.Answers {
		// Unanswered questions must not leak their key.
		if a.SelectedIndex == nil {
			a.CorrectIndex = -1
			a.Explanation = ""
		}
		answers[i] = a
	}
	return startedPayload{
		SessionID:   snap.ID,
		EventID:     snap.EventID,
		Current:     snap.Current,
		Questions:   questions,
		Answers:     answers,
		RemainingMs: snap.RemainingMs,
		TotalMs:     snap.TotalMs,
		Focus:       focus,
	}
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: userMessage(err)}}
}
