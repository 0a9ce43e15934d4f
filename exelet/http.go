package exelet

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/oid"
	"github.com/teranos/statetree/st"
)

// Path is the HTTP endpoint serving exelet requests.
const Path = "/exelet"

// maxRequestSize bounds a request body.
const maxRequestSize = 64 << 20

// HTTPHandler accepts one JSON Message per POST and answers with the
// handler's response Message.
type HTTPHandler struct {
	registry *Registry
	instance st.InstanceType
	token    string
	logger   *zap.SugaredLogger
}

// NewHTTPHandler serves reg as instance. Requests carrying
// "Authorization: Bearer <token>" are authenticated; an empty token
// authenticates nobody.
func NewHTTPHandler(reg *Registry, instance st.InstanceType, token string, log *zap.SugaredLogger) *HTTPHandler {
	if log == nil {
		log = logger.ComponentLogger("exelet")
	}
	return &HTTPHandler{registry: reg, instance: instance, token: token, logger: log}
}

func (h *HTTPHandler) authenticated(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(given), []byte(h.token)) == 1
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var msg Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestSize)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if msg.Type == "" {
		writeError(w, http.StatusBadRequest, "message type is required")
		return
	}

	ctx := logger.WithRequestID(r.Context(), msg.ID)
	if h.authenticated(r) {
		ctx = WithAuthenticated(ctx)
	}

	resp, err := h.registry.Dispatch(ctx, h.instance, msg)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Errorw("Exelet request failed",
				logger.FieldMessageType, string(msg.Type),
				logger.FieldError, err)
		}
		writeError(w, status, err.Error())
		return
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Warnw("Failed to write exelet response", logger.FieldError, err)
	}
}

// statusFor maps dispatch errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoHandler):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errors.ErrInvalidRequest),
		errors.Is(err, codec.ErrUnknownCodec),
		errors.Is(err, codec.ErrCorrupt),
		errors.Is(err, st.ErrInvalidUpdate),
		errors.Is(err, st.ErrUnsupportedPartial),
		errors.Is(err, st.ErrNotDescendant),
		errors.Is(err, oid.ErrInvalidNamespace),
		errors.Is(err, oid.ErrInvalidPathComponent),
		errors.Is(err, oid.ErrInvalidSelector):
		return http.StatusBadRequest
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
