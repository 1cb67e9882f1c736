package translate

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/christopherjohns/chatmatch/internal/metrics"
)

// Request is the body of POST /translate.
type Request struct {
	Text       string `json:"text"`
	TargetLang string `json:"targetLang"`
}

// Response is the successful reply of POST /translate.
type Response struct {
	TranslatedText string `json:"translatedText"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves POST /translate.
type Handler struct {
	translator Translator
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewHandler creates a Handler. m may be nil.
func NewHandler(t Translator, logger *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{translator: t, logger: logger, metrics: m}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := validate(req.Text, req.TargetLang); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	text, err := h.translator.Translate(r.Context(), req.Text, req.TargetLang)
	if err != nil {
		h.observe(false)
		if errors.Is(err, ErrUnavailable) {
			h.logger.Debug("translation requested without provider")
		} else {
			h.logger.Warn("translation failed", zap.String("target_lang", req.TargetLang), zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Translation failed"})
		return
	}
	h.observe(true)
	writeJSON(w, http.StatusOK, Response{TranslatedText: text})
}

func (h *Handler) observe(ok bool) {
	if h.metrics == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	h.metrics.Translations.WithLabelValues(result).Inc()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
