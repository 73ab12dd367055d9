package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gnod-dev/gnodlogger/internal/classifier"
	"github.com/gnod-dev/gnodlogger/internal/differ"
	"github.com/gnod-dev/gnodlogger/internal/format"
	"github.com/gnod-dev/gnodlogger/internal/hub"
	"github.com/gnod-dev/gnodlogger/internal/model"
	"github.com/gnod-dev/gnodlogger/internal/store"
)

// compareLimit bounds how many events per session a comparison loads.
const compareLimit = 5000

// Server exposes the read/ingest API and the websocket push channel.
type Server struct {
	engine     *gin.Engine
	store      *store.Store
	hub        *hub.Hub
	classifier *classifier.Classifier
	transcript *format.Transcript
	logger     *zap.Logger
	addr       string
}

// New creates the HTTP facade over the store, classifier, and hub.
func New(st *store.Store, h *hub.Hub, cls *classifier.Classifier, tr *format.Transcript, addr string, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Disable automatic redirects that cause 301 issues.
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	s := &Server{
		engine:     engine,
		store:      st,
		hub:        h,
		classifier: cls,
		transcript: tr,
		logger:     logger,
		addr:       addr,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.POST("/logs", s.handleIngest)
	s.engine.GET("/logs", s.handleList)
	s.engine.GET("/logs/projects", s.handleProjects)
	s.engine.GET("/logs/projects/:project/sessions", s.handleSessions)
	s.engine.GET("/logs/claude", s.handleTranscript)
	s.engine.GET("/logs/compare", s.handleCompare)
	s.engine.PATCH("/logs/:id/bookmark", s.handleBookmark)
	s.engine.DELETE("/logs", s.handleDelete)

	// WebSocket push.
	s.engine.GET("/ws", s.handleWebSocket)

	// Health check.
	s.engine.GET("/healthz", func(c *gin.Context) {
		total, err := s.store.TotalEvents()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"total_events": total,
			"subscribers":  s.hub.Subscribers(),
			"dropped_push": s.hub.Dropped(),
		})
	})
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleIngest appends one event and pushes it to subscribers.
func (s *Server) handleIngest(c *gin.Context) {
	var e model.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload: " + err.Error()})
		return
	}

	stored, err := s.store.Append(e)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		s.logger.Error("append failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store event"})
		return
	}

	s.hub.Publish(stored)
	c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleList(c *gin.Context) {
	opts := store.ListOptions{
		Project:   c.Query("project"),
		Feature:   c.Query("feature"),
		Level:     c.Query("level"),
		SessionID: c.Query("sessionId"),
		Page:      intQuery(c, "page", 1),
		Limit:     intQuery(c, "limit", 50),
	}

	events, total, err := s.store.List(opts)
	if err != nil {
		s.logger.Error("list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	totalPages := (total + int64(opts.Limit) - 1) / int64(opts.Limit)
	c.JSON(http.StatusOK, gin.H{
		"events":     events,
		"total":      total,
		"totalPages": totalPages,
	})
}

func (s *Server) handleProjects(c *gin.Context) {
	projects, err := s.store.Projects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read projects"})
		return
	}
	if projects == nil {
		projects = []model.ProjectSummary{}
	}
	c.JSON(http.StatusOK, projects)
}

func (s *Server) handleSessions(c *gin.Context) {
	sessions, err := s.store.Sessions(c.Param("project"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sessions"})
		return
	}
	if sessions == nil {
		sessions = []model.SessionSummary{}
	}
	c.JSON(http.StatusOK, sessions)
}

// handleTranscript composes classifier and formatter into the canonical
// transcript view for LLM triage.
func (s *Server) handleTranscript(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		sessionID = c.Query("traceId")
	}

	events, err := s.store.ListAsc(c.Query("project"), c.Query("feature"), sessionID, intQuery(c, "limit", 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	anomalies := s.classifier.Classify(events)
	if anomalies == nil {
		anomalies = []model.Anomaly{}
	}

	c.JSON(http.StatusOK, gin.H{
		"formatted": s.transcript.Render(events, anomalies),
		"anomalies": anomalies,
		"raw":       events,
	})
}

func (s *Server) handleCompare(c *gin.Context) {
	project := c.Query("project")
	idA, idB := c.Query("sessionA"), c.Query("sessionB")
	if idA == "" || idB == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionA and sessionB are required"})
		return
	}

	eventsA, err := s.store.ListAsc(project, "", idA, compareLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session A"})
		return
	}
	eventsB, err := s.store.ListAsc(project, "", idB, compareLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session B"})
		return
	}

	c.JSON(http.StatusOK, differ.Compare(idA, eventsA, idB, eventsB))
}

func (s *Server) handleBookmark(c *gin.Context) {
	var body struct {
		IsBookmarked bool     `json:"isBookmarked"`
		Tags         []string `json:"tags"`
		Notes        *string  `json:"notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bookmark payload"})
		return
	}

	updated, err := s.store.Bookmark(c.Param("id"), store.BookmarkPatch{
		IsBookmarked: body.IsBookmarked,
		Tags:         body.Tags,
		Notes:        body.Notes,
	})
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update bookmark"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDelete(c *gin.Context) {
	filter := store.DeleteFilter{
		Project:   c.Query("project"),
		SessionID: c.Query("sessionId"),
	}
	if before := c.Query("before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be RFC 3339"})
			return
		}
		filter.Before = t
	}

	n, err := s.store.Delete(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}
