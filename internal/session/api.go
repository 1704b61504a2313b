package session

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/sink"
)

// Transcript listing limits.
const (
	defaultTranscriptLimit = 20
	maxTranscriptLimit     = 200
)

// maxSignalBody caps the body of a signal request.
const maxSignalBody = 4 << 10

// API serves the admin endpoints for connected clients and, when the sink
// keeps them, delivered transcripts.
type API struct {
	dir     *Directory
	history sink.History
}

// NewAPI returns the admin API over dir. history may be nil.
func NewAPI(dir *Directory, history sink.History) *API {
	return &API{dir: dir, history: history}
}

// Register adds the admin routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/clients", a.listClients)
	mux.HandleFunc("POST /api/clients/{id}/signal", a.signalClient)
	mux.HandleFunc("GET /api/transcripts", a.listTranscripts)
}

func (a *API) listClients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"clients": a.dir.List()})
}

type signalRequest struct {
	Message string `json:"message"`
}

// signalClient pushes a text message to one client. The body is either
// {"message": "..."} or the raw message as text/plain.
func (a *API) signalClient(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignalBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxSignalBody {
		writeError(w, http.StatusRequestEntityTooLarge, "message too large")
		return
	}

	msg := string(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req signalRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg = req.Message
	}
	if strings.TrimSpace(msg) == "" {
		writeError(w, http.StatusBadRequest, "message is empty")
		return
	}

	id := r.PathValue("id")
	err = a.dir.Signal(r.Context(), id, msg)
	switch {
	case errors.Is(err, ErrUnknownClient):
		writeError(w, http.StatusNotFound, "unknown client")
	case err != nil:
		observe.Logger(r.Context()).Warn("signal failed", "conn_id", id, "err", err)
		writeError(w, http.StatusBadGateway, "failed to reach client")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// listTranscripts returns stored transcripts, newest first. "q" searches the
// text, "conn" filters by connection id.
func (a *API) listTranscripts(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotImplemented, "the configured sink keeps no history")
		return
	}

	q := r.URL.Query()
	limit := defaultTranscriptLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTranscriptLimit)
	}

	var (
		entries []sink.Entry
		err     error
	)
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		entries, err = a.history.Search(r.Context(), query, limit)
	} else {
		entries, err = a.history.Recent(r.Context(), q.Get("conn"), limit)
	}
	if err != nil {
		observe.Logger(r.Context()).Error("transcript query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "transcript query failed")
		return
	}
	out := make([]transcriptView, 0, len(entries))
	for _, e := range entries {
		out = append(out, transcriptView{
			ID:            e.ID,
			ConnectionID:  e.ConnectionID,
			Text:          e.Text,
			RawText:       e.RawText,
			KeywordIndex:  e.KeywordIndex,
			AudioDuration: e.AudioDuration.Milliseconds(),
			Language:      e.Language,
			CompletedAt:   e.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": out})
}

type transcriptView struct {
	ID            int64     `json:"id"`
	ConnectionID  string    `json:"connection_id"`
	Text          string    `json:"text"`
	RawText       string    `json:"raw_text,omitempty"`
	KeywordIndex  int       `json:"keyword_index"`
	AudioDuration int64     `json:"audio_duration_ms"`
	Language      string    `json:"language,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
