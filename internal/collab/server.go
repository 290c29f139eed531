package collab

import (
	"context"
	"encoding/json"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/exp/maps"
	"golang.org/x/xerrors"

	"codecollab/internal/analysis"
	"codecollab/internal/config"
	"codecollab/internal/middleware"
	"codecollab/internal/models"
	"codecollab/internal/recovery"
)

// Server owns the session registry, demultiplexes inbound messages to
// sessions, enforces per-client rate limits and runs the periodic
// session garbage collection. The registry and the rate-limit table are
// the only server-wide shared mutable structures; sessions themselves
// serialize their own state.
type Server struct {
	cfg      *config.Config
	log      zerolog.Logger
	analyzer analysis.Engine
	recovery *recovery.Manager

	mu       sync.RWMutex
	sessions map[string]*Session

	limiter     *RateLimiter
	startedAt   time.Time
	connections atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// ServerStats aggregates per-session stats for the stats endpoint.
type ServerStats struct {
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Sessions      int            `json:"sessions"`
	TotalClients  int            `json:"totalClients"`
	Connections   int64          `json:"connections"`
	RecentErrors  int            `json:"recentErrors"`
	SessionStats  []SessionStats `json:"sessionStats"`
}

// HealthStatus is the health endpoint payload. Status is "healthy"
// unless any of the gating thresholds is crossed.
type HealthStatus struct {
	Status        string                       `json:"status"`
	UptimeSeconds int64                        `json:"uptimeSeconds"`
	Sessions      int                          `json:"sessions"`
	TotalClients  int                          `json:"totalClients"`
	Connections   int64                        `json:"connections"`
	RecentErrors  int                          `json:"recentErrors"`
	HeapAllocMB   uint64                       `json:"heapAllocMB"`
	Suggestions   map[recovery.Category]string `json:"suggestions,omitempty"`
}

// NewServer wires the server from its collaborators.
func NewServer(cfg *config.Config, logger zerolog.Logger, analyzer analysis.Engine, rec *recovery.Manager) *Server {
	return &Server{
		cfg:       cfg,
		log:       logger.With().Str("component", "collab").Logger(),
		analyzer:  analyzer,
		recovery:  rec,
		sessions:  make(map[string]*Session),
		limiter:   NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
		startedAt: time.Now(),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the periodic cleanup task. It is owned by the server's
// lifecycle: started here, cancelled by Shutdown.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.Cleanup()
				s.limiter.Prune()
			}
		}
	}()
	s.log.Info().Dur("interval", s.cfg.CleanupInterval).Msg("cleanup task started")
}

// Shutdown stops the cleanup task and closes every session.
func (s *Server) Shutdown() {
	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	sessions := maps.Values(s.sessions)
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close("server shutting down")
	}
	s.log.Info().Int("sessions", len(sessions)).Msg("server shut down")
}

// NewClientID mints a connection-scoped client id. KSUIDs are
// k-sortable, so comparing ids as opaque strings orders clients by
// connection time, which keeps the transform tie-break stable.
func (s *Server) NewClientID() string {
	return newClientID()
}

// HandleMessage parses and routes one inbound frame from c. Malformed
// frames get an error reply and leave the connection open; messages over
// the rate limit are answered with an error and dropped; unknown types
// are logged and dropped without a reply.
func (s *Server) HandleMessage(ctx context.Context, c *Client, raw []byte) {
	if !s.limiter.Allow(c.ID) {
		c.Send(models.MsgError, models.ErrorMessage{Message: "Rate limit exceeded"})
		return
	}

	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.Send(models.MsgError, models.ErrorMessage{Message: "Invalid message format"})
		return
	}

	ctx, span := middleware.StartSpan(ctx, "collab.HandleMessage",
		attribute.String("message.type", env.Type),
		attribute.String("client.id", c.ID),
	)
	defer span.End()

	switch env.Type {
	case models.MsgCreateSession:
		var req models.CreateSessionRequest
		if !s.decode(c, env.Data, &req) {
			return
		}
		s.handleCreateSession(c, req)

	case models.MsgJoinSession:
		var req models.JoinSessionRequest
		if !s.decode(c, env.Data, &req) {
			return
		}
		s.handleJoinSession(c, req)

	case models.MsgOperation:
		var op models.Operation
		if !s.decode(c, env.Data, &op) {
			return
		}
		if session, ok := s.sessionFor(c); ok {
			if err := session.HandleOperation(c, op); err != nil {
				middleware.AddSpanError(ctx, err)
				s.recovery.Record(recovery.CategoryOperationSync, err)
			}
		}

	case models.MsgCursorUpdate:
		var req models.CursorUpdateRequest
		if !s.decode(c, env.Data, &req) {
			return
		}
		if session, ok := s.sessionFor(c); ok {
			session.UpdateCursor(c, req.Cursor)
		}

	case models.MsgSelectionUpdate:
		var req models.SelectionUpdateRequest
		if !s.decode(c, env.Data, &req) {
			return
		}
		if session, ok := s.sessionFor(c); ok {
			session.UpdateSelection(c, req.Selection)
		}

	case models.MsgAddComment:
		var req models.AddCommentRequest
		if !s.decode(c, env.Data, &req) {
			return
		}
		if session, ok := s.sessionFor(c); ok {
			session.AddComment(c, req.Content, req.Line, req.Column)
		}

	case models.MsgChatMessage:
		var req models.ChatRequest
		if !s.decode(c, env.Data, &req) {
			return
		}
		if session, ok := s.sessionFor(c); ok {
			session.AddChatMessage(c, req.Content, req.Type)
		}

	case models.MsgSetLocked:
		var req models.SetLockedRequest
		if !s.decode(c, env.Data, &req) {
			return
		}
		if session, ok := s.sessionFor(c); ok {
			if err := session.SetLocked(c.ID, req.Locked); err != nil {
				c.Send(models.MsgError, models.ErrorMessage{Message: err.Error()})
			}
		}

	case models.MsgRunAnalysis:
		var req models.RunAnalysisRequest
		if !s.decode(c, env.Data, &req) {
			return
		}
		if session, ok := s.sessionFor(c); ok {
			s.runAnalysis(session, c, req)
		}

	default:
		s.log.Debug().Str("type", env.Type).Str("client", c.ID).Msg("unknown message type dropped")
	}
}

// Disconnect removes the client from its session, deletes the session
// when it becomes empty and forgets the client's rate-limit window.
func (s *Server) Disconnect(c *Client) {
	s.limiter.Forget(c.ID)

	if c.SessionID == "" {
		return
	}
	s.mu.Lock()
	session, ok := s.sessions[c.SessionID]
	s.mu.Unlock()
	if !ok {
		return
	}

	session.RemoveClient(c.ID)
	if session.Empty() {
		s.mu.Lock()
		delete(s.sessions, session.ID)
		s.mu.Unlock()
		s.log.Info().Str("session", session.ID).Msg("empty session removed")
	}
}

// ConnectionOpened / ConnectionClosed track the active transport count
// for health reporting.
func (s *Server) ConnectionOpened() { s.connections.Add(1) }
func (s *Server) ConnectionClosed() { s.connections.Add(-1) }

// Session returns the registered session with the given id.
func (s *Server) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// SessionCount returns the number of registered sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) handleCreateSession(c *Client, req models.CreateSessionRequest) {
	c.User = req.UserData

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	session, exists := s.sessions[id]
	if !exists {
		doc := models.DefaultDocument()
		if req.Document != nil {
			doc = doc.Merge(*req.Document)
		}
		session = NewSession(id, doc, s.log)
		s.sessions[id] = session
	}
	s.mu.Unlock()

	c.SessionID = id
	session.AddClient(c)
	if !exists {
		s.log.Info().Str("session", id).Str("host", c.ID).Msg("session created")
	}
}

func (s *Server) handleJoinSession(c *Client, req models.JoinSessionRequest) {
	session, ok := s.Session(req.SessionID)
	if !ok {
		c.Send(models.MsgError, models.ErrorMessage{Message: "Session not found"})
		return
	}

	c.User = req.UserData
	c.SessionID = session.ID
	session.AddClient(c)
}

// runAnalysis races the external collaborator against the configured
// timeout. Document edits keep flowing while it runs; when a fix pass
// rewrites the buffer, the rewrite goes back in as a whole-document
// replace through the normal operation path, so it is subject to the
// same transform and broadcast semantics as any edit.
func (s *Server) runAnalysis(session *Session, c *Client, req models.RunAnalysisRequest) {
	doc, revision := session.DocumentSnapshot()

	session.Broadcast(models.MsgAnalysisStarted, models.AnalysisStarted{
		ClientID: c.ID,
		DryRun:   req.DryRun,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AnalysisTimeout)
		defer cancel()

		ctx, span := middleware.StartSpan(ctx, "collab.RunAnalysis",
			attribute.String("session.id", session.ID),
			attribute.Bool("analysis.dry_run", req.DryRun),
		)
		defer span.End()

		result, err := s.analyzer.Run(ctx, analysis.Request{
			Code:     doc.Content,
			Filename: doc.Filename,
			DryRun:   req.DryRun,
			Layers:   req.Layers,
		})
		if err != nil {
			middleware.AddSpanError(ctx, err)
			s.recovery.Record(recovery.CategoryAnalysis, err)
			session.Broadcast(models.MsgAnalysisError, models.AnalysisError{Error: err.Error()})
			return
		}

		applied := false
		if result.Success && !req.DryRun &&
			result.Transformed != "" &&
			result.Transformed != doc.Content &&
			len(result.Transformed) <= models.MaxDocumentSize {
			op := models.Operation{
				Type:         models.OpReplace,
				Position:     0,
				Content:      result.Transformed,
				OldLength:    len(doc.Content),
				BaseRevision: revision,
				ClientID:     c.ID,
			}
			if err := session.HandleOperation(c, op); err != nil {
				s.recovery.Record(recovery.CategoryAnalysis, err)
				session.Broadcast(models.MsgAnalysisError, models.AnalysisError{Error: err.Error()})
				return
			}
			applied = true
		}

		session.Broadcast(models.MsgAnalysisResult, models.AnalysisResult{
			Success:        result.Success,
			DetectedIssues: result.DetectedIssues,
			AppliedFixes:   result.AppliedFixes,
			Applied:        applied,
		})
	}()
}

// Cleanup runs one garbage-collection pass over the registry: empty
// sessions go immediately, idle and over-age sessions are closed with a
// reason, and when the registry still exceeds the hard cap the
// least-recently-active sessions are evicted down to it.
func (s *Server) Cleanup() {
	now := s.now()

	s.mu.Lock()
	sessions := maps.Values(s.sessions)
	s.mu.Unlock()

	for _, session := range sessions {
		var reason string
		switch {
		case session.Empty():
			reason = "empty"
		case now.Sub(session.LastActivity()) > s.cfg.SessionIdleTimeout:
			reason = "Session closed due to inactivity"
		case now.Sub(session.CreatedAt()) > s.cfg.SessionMaxAge:
			reason = "Session closed due to age limit"
		default:
			continue
		}

		if reason != "empty" {
			session.Close(reason)
		}
		s.mu.Lock()
		delete(s.sessions, session.ID)
		s.mu.Unlock()
		s.log.Info().Str("session", session.ID).Str("reason", reason).Msg("session removed")
	}

	s.evictOverCap()
}

// evictOverCap removes the least-recently-active sessions beyond the
// hard session cap, notifying their clients first.
func (s *Server) evictOverCap() {
	s.mu.Lock()
	over := len(s.sessions) - s.cfg.MaxSessions
	if over <= 0 {
		s.mu.Unlock()
		return
	}
	sessions := maps.Values(s.sessions)
	s.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity().Before(sessions[j].LastActivity())
	})

	for _, session := range sessions[:over] {
		session.Close("Server session limit reached")
		s.mu.Lock()
		delete(s.sessions, session.ID)
		s.mu.Unlock()
		s.recovery.Record(recovery.CategorySession, xerrors.Errorf("session %s evicted over capacity", session.ID))
		s.log.Warn().Str("session", session.ID).Msg("session evicted over capacity")
	}
}

// Stats aggregates per-session stats for reporting.
func (s *Server) Stats() ServerStats {
	s.mu.RLock()
	sessions := maps.Values(s.sessions)
	s.mu.RUnlock()

	stats := ServerStats{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Sessions:      len(sessions),
		Connections:   s.connections.Load(),
		RecentErrors:  s.recovery.RecentCount(5 * time.Minute),
	}
	for _, session := range sessions {
		st := session.Stats()
		stats.TotalClients += st.Clients
		stats.SessionStats = append(stats.SessionStats, st)
	}
	return stats
}

// Health derives the healthy/degraded verdict from session count,
// recent error rate and heap usage.
func (s *Server) Health() HealthStatus {
	stats := s.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	heapMB := mem.HeapAlloc / (1024 * 1024)

	status := "healthy"
	if stats.Sessions >= s.cfg.MaxHealthySessions ||
		stats.RecentErrors >= s.cfg.MaxRecentErrors ||
		heapMB >= uint64(s.cfg.MemoryCeilingMB) ||
		s.recovery.Degraded() {
		status = "degraded"
	}

	return HealthStatus{
		Status:        status,
		UptimeSeconds: stats.UptimeSeconds,
		Sessions:      stats.Sessions,
		TotalClients:  stats.TotalClients,
		Connections:   stats.Connections,
		RecentErrors:  stats.RecentErrors,
		HeapAllocMB:   heapMB,
		Suggestions:   s.recovery.Suggestions(),
	}
}

// decode unmarshals a payload, answering malformed data with an error
// reply. Returns false when the payload was rejected.
func (s *Server) decode(c *Client, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.Send(models.MsgError, models.ErrorMessage{Message: "Invalid message format"})
		return false
	}
	return true
}

func (s *Server) sessionFor(c *Client) (*Session, bool) {
	if c.SessionID == "" {
		c.Send(models.MsgError, models.ErrorMessage{Message: "Not in a session"})
		return nil, false
	}
	session, ok := s.Session(c.SessionID)
	if !ok {
		c.Send(models.MsgError, models.ErrorMessage{Message: "Session not found"})
		return nil, false
	}
	return session, true
}
