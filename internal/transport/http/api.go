package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"echoes-history-service/internal/app"
	"echoes-history-service/internal/domain"
	"echoes-history-service/internal/logger"
)

// API serves content and progress over REST.
type API struct {
	service *app.HistoryService
	log     *logger.Logger
}

func NewAPI(service *app.HistoryService, log *logger.Logger) *API {
	return &API{service: service, log: logger.OrNop(log).With("component", "api")}
}

// Register mounts the REST routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/eras", a.eras)
	mux.HandleFunc("GET /api/eras/{eraId}/events", a.events)
	mux.HandleFunc("GET /api/eras/{eraId}/events/{eventId}", a.event)
	mux.HandleFunc("POST /api/eras/{eraId}/refresh", a.refresh)
	mux.HandleFunc("GET /api/progress/{eventId}", a.progress)
	mux.HandleFunc("POST /api/progress/{eventId}", a.updateProgress)
}

type eventView struct {
	Event      domain.HistoryEvent `json:"event"`
	TextBlocks int                 `json:"textBlocks"`
}

type readingPayload struct {
	// ReadRatio wins when set; otherwise BlocksRead is converted with the event's text block count.
	ReadRatio  *float64 `json:"readRatio"`
	BlocksRead *int     `json:"blocksRead"`
	EraID      string   `json:"eraId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func (a *API) eras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Content().Eras(r.Context()))
}

func (a *API) events(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Content().EventsByEra(r.Context(), r.PathValue("eraId")))
}

func (a *API) event(w http.ResponseWriter, r *http.Request) {
	ev, ok := a.service.Content().Event(r.Context(), r.PathValue("eraId"), r.PathValue("eventId"))
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrEventNotFound)
		return
	}
	writeJSON(w, http.StatusOK, eventView{Event: ev, TextBlocks: app.TextBlockCount(ev)})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Content().Refresh(r.Context(), r.PathValue("eraId")))
}

func (a *API) progress(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, a.service.Progress(r.Context(), userID, r.PathValue("eventId")))
}

func (a *API) updateProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthenticated)
		return
	}
	eventID := r.PathValue("eventId")

	var payload readingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}
	var readRatio float64
	switch {
	case payload.ReadRatio != nil:
		readRatio = *payload.ReadRatio
	case payload.BlocksRead != nil && payload.EraID != "":
		ev, ok := a.service.Content().Event(r.Context(), payload.EraID, eventID)
		if !ok {
			writeError(w, http.StatusNotFound, domain.ErrEventNotFound)
			return
		}
		readRatio = app.ReadRatio(ev, *payload.BlocksRead)
	default:
		writeError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}

	progress := a.service.RecordReading(r.Context(), userID, eventID, readRatio)
	a.log.Debug("reading recorded", "user_id", userID, "event_id", eventID, "read_ratio", progress.ReadRatio)
	writeJSON(w, http.StatusOK, progress)
}

var (
	errUnauthenticated = errors.New("unauthenticated")
	errInvalidPayload  = errors.New("invalid payload")
)

// userMessage maps errors to the Vietnamese text shown to learners.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrQuizLocked):
		return "Hãy đọc ít nhất 80% nội dung sự kiện để mở khóa bài trắc nghiệm."
	case errors.Is(err, domain.ErrEventNotFound), errors.Is(err, domain.ErrEraNotFound):
		return "Không tìm thấy nội dung."
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionClosed):
		return "Phiên trắc nghiệm đã kết thúc."
	case errors.Is(err, domain.ErrNotRevealed):
		return "Hãy chọn một đáp án trước."
	case errors.Is(err, domain.ErrOptionOutOfRange):
		return "Đáp án không hợp lệ."
	case errors.Is(err, errUnauthenticated):
		return "Vui lòng đăng nhập để lưu tiến độ."
	case errors.Is(err, errInvalidPayload):
		return "Dữ liệu gửi lên không hợp lệ."
	default:
		return "Đã xảy ra lỗi. Vui lòng thử lại."
	}
}

// authenticatedUser reads the caller's identity; an empty id means anonymous.
func authenticatedUser(r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	return userID, userID != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorPayload{Message: userMessage(err)})
}
