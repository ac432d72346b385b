package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"routeswap/pkg/metrics"
	"routeswap/pkg/session"
	"routeswap/pkg/types"
)

type entry struct {
	session *session.Session
	stop    context.CancelFunc
}

// SessionHandler serves swap sessions. Each session polls its quote in the
// background until it is deleted or the handler is closed.
type SessionHandler struct {
	resolver session.Resolver
	opts     session.Options
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
}

func NewSessionHandler(resolver session.Resolver, opts session.Options) *SessionHandler {
	return &SessionHandler{
		resolver: resolver,
		opts:     opts,
		sessions: make(map[string]*entry),
		logger:   log.With().Str("component", "session-api").Logger(),
	}
}

func (h *SessionHandler) Root() string {
	return "/sessions"
}

func (h *SessionHandler) SetRoutes(group *gin.RouterGroup) {
	group.POST("", h.create)
	group.GET("/:id", h.get)
	group.DELETE("/:id", h.delete)
	group.PUT("/:id/intent", h.setIntent)
	group.POST("/:id/refresh", h.refresh)
	group.POST("/:id/confirm", h.confirm)
	group.POST("/:id/reset", h.reset)
}

type createRequest struct {
	Chain string `json:"chain" binding:"required"`
}

type intentRequest struct {
	TokenIn  string `json:"token_in" binding:"required"`
	TokenOut string `json:"token_out" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	// Kind is exact_in (default) or exact_out
	Kind string `json:"kind"`
}

type confirmRequest struct {
	SlippageBps *uint16 `json:"slippage_bps"`
	Recipient   string  `json:"recipient"`
	// Deadline is a Go duration such as "10m"
	Deadline string `json:"deadline"`
}

func (h *SessionHandler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	s := session.New(h.resolver, h.opts)
	if err := s.SetChain(c.Request.Context(), req.Chain); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go s.Poll(ctx, h.opts.PollInterval)

	h.mu.Lock()
	h.sessions[s.ID()] = &entry{session: s, stop: cancel}
	h.mu.Unlock()
	metrics.ActiveSessions.Inc()

	h.logger.Info().Str("session", s.ID()).Str("chain", req.Chain).Msg("session created")
	Success(c, http.StatusCreated, s.Snapshot())
}

func (h *SessionHandler) lookup(c *gin.Context) (*session.Session, bool) {
	h.mu.RLock()
	e, ok := h.sessions[c.Param("id")]
	h.mu.RUnlock()
	if !ok {
		NotFound(c, fmt.Sprintf("session %s not found", c.Param("id")))
		return nil, false
	}
	return e.session, true
}

func (h *SessionHandler) get(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	Success(c, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) delete(c *gin.Context) {
	id := c.Param("id")
	h.mu.Lock()
	e, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		NotFound(c, fmt.Sprintf("session %s not found", id))
		return
	}
	e.stop()
	metrics.ActiveSessions.Dec()
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) setIntent(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := s.SetIntent(c.Request.Context(), req.TokenIn, req.TokenOut, req.Amount, types.SwapKind(req.Kind)); err != nil {
		Fail(c, err, s.Snapshot())
		return
	}
	Success(c, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) refresh(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := s.Refresh(c.Request.Context()); err != nil {
		Fail(c, err, s.Snapshot())
		return
	}
	Success(c, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) confirm(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var req confirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}
	params := session.ConfirmParams{SlippageBps: req.SlippageBps, Recipient: req.Recipient}
	if req.Deadline != "" {
		d, err := time.ParseDuration(req.Deadline)
		if err != nil || d <= 0 {
			BadRequest(c, fmt.Sprintf("invalid deadline %q", req.Deadline))
			return
		}
		params.Deadline = d
	}

	if _, err := s.Confirm(c.Request.Context(), params); err != nil {
		Fail(c, err, s.Snapshot())
		return
	}
	Success(c, http.StatusAccepted, s.Snapshot())
}

func (h *SessionHandler) reset(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	s.Reset()
	Success(c, http.StatusOK, s.Snapshot())
}

// Close stops every session's polling
func (h *SessionHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, e := range h.sessions {
		e.stop()
		delete(h.sessions, id)
		metrics.ActiveSessions.Dec()
	}
}
