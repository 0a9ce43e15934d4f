package sync

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/st"
)

// Handler accepts incoming sync sessions for one tree.
// Session starts are admitted by a token bucket; excess requests get 429.
type Handler struct {
	doc      *st.Document
	opts     Options
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	// OnSession, when set, is called after every finished session.
	OnSession func(Result)
}

// Result summarizes one session.
type Result struct {
	Peer     string
	Sent     int
	Received int
	Err      error
}

// NewHandler creates a handler admitting sessionsPerMinute session starts
// per minute. Zero or less disables the limit.
func NewHandler(doc *st.Document, opts Options, sessionsPerMinute int, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = logger.ComponentLogger("sync")
	}
	limit := rate.Inf
	burst := 1
	if sessionsPerMinute > 0 {
		limit = rate.Limit(float64(sessionsPerMinute) / 60.0)
		burst = sessionsPerMinute
	}
	return &Handler{
		doc:     doc,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: log,
	}
}

// ServeHTTP upgrades the request and runs the protocol as one peer.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		h.logger.Warnw("Sync session rejected by rate limit", logger.FieldAddress, r.RemoteAddr)
		http.Error(w, "too many sync sessions", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("Sync WebSocket upgrade failed", logger.FieldError, err)
		return
	}
	wsConn := NewWebSocketConn(conn)
	defer wsConn.Close()

	log := logger.ChildLogger(h.logger, logger.FieldAddress, r.RemoteAddr)
	peer := NewPeer(wsConn, h.doc, h.opts, log)
	sent, received, err := peer.Reconcile(r.Context())

	res := Result{Peer: peer.RemoteName, Sent: sent, Received: received, Err: err}
	if err != nil {
		log.Warnw("Sync reconciliation failed",
			"sent", sent,
			"received", received,
			logger.FieldError, err,
		)
	}
	if h.OnSession != nil {
		h.OnSession(res)
	}
}
