// Package httpserver exposes the REST API, the Prometheus endpoint, and
// the websocket bridge that drives voice interviews.
package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/prepvox/prepvox/internal/config"
	"github.com/prepvox/prepvox/internal/interview"
	"github.com/prepvox/prepvox/internal/live"
	"github.com/prepvox/prepvox/internal/metrics"
	"github.com/prepvox/prepvox/internal/store"
)

// defaultUserID scopes chat storage while the API runs without accounts.
const defaultUserID = 1

// ChatStore is the slice of the store the chat endpoints need.
type ChatStore interface {
	SaveChat(ctx context.Context, userID int, message, response string) error
	ChatHistory(ctx context.Context, userID, page, limit int) ([]store.Chat, store.Pagination, error)
	ClearChatHistory(ctx context.Context, userID int) error
}

// SessionStore is the slice of the store the interview endpoints need.
type SessionStore interface {
	SaveVoiceSession(ctx context.Context, rec interview.Record) error
	VoiceSessions(ctx context.Context, limit int) ([]store.VoiceSession, error)
}

// Responder produces one chat answer per message.
type Responder interface {
	Reply(ctx context.Context, message string) string
}

// Deps are the collaborators behind the HTTP surface. Nil fields disable
// the endpoints that need them.
type Deps struct {
	Chats     ChatStore
	Sessions  SessionStore
	Responder Responder
	Metrics   *metrics.Metrics
	// Connect opens a live model stream for one interview role. Defaults
	// to the Gemini live client from the configuration.
	Connect func(role string) interview.Connector
}

// Server bundles the echo router and its dependencies.
type Server struct {
	Echo *echo.Echo
	cfg  config.Config
	deps Deps
}

// New constructs the HTTP server with all routes registered.
func New(cfg config.Config, deps Deps) *Server {
	if deps.Connect == nil {
		deps.Connect = func(role string) interview.Connector {
			client := live.NewClient(live.Config{
				APIKey:            cfg.GeminiAPIKey,
				Model:             cfg.GeminiLiveModel,
				Voice:             cfg.VoiceName,
				SystemInstruction: config.InterviewerPrompt(role),
			})
			return interview.ConnectorFunc(func(ctx context.Context) (interview.Stream, error) {
				return client.Connect(ctx)
			})
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if deps.Metrics != nil {
		e.Use(requestMetrics(deps.Metrics))
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))
	// 100 requests per 15 minutes per client.
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Path(), "/ws/") || c.Path() == "/metrics"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(100.0 / (15 * 60)),
			Burst:     100,
			ExpiresIn: 15 * time.Minute,
		}),
	}))

	s := &Server{Echo: e, cfg: cfg, deps: deps}

	e.GET("/api/health", s.handleHealth)
	e.POST("/api/chat/send", s.handleChatSend)
	e.GET("/api/chat/history", s.handleChatHistory)
	e.DELETE("/api/chat/history", s.handleChatClear)
	e.POST("/api/interview/save-voice-session", s.handleSaveVoiceSession)
	e.GET("/api/interview/sessions", s.handleVoiceSessions)
	e.GET("/ws/interview", s.handleInterviewSocket)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start(address string) error {
	return s.Echo.Start(address)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type chatSendRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChatSend(c echo.Context) error {
	if s.deps.Responder == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Chat is not configured"})
	}
	var req chatSendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Message is required"})
	}

	started := time.Now()
	answer := s.deps.Responder.Reply(c.Request().Context(), req.Message)
	if m := s.deps.Metrics; m != nil {
		m.ChatRequests.Inc()
		m.ChatDuration.Observe(time.Since(started).Seconds())
	}

	if s.deps.Chats != nil {
		if err := s.deps.Chats.SaveChat(c.Request().Context(), userID(c), req.Message, answer); err != nil {
			c.Logger().Errorf("save chat: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to process message"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message":  "Message sent successfully",
		"response": answer,
	})
}

func (s *Server) handleChatHistory(c echo.Context) error {
	if s.deps.Chats == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Chat history is not configured"})
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	chats, pagination, err := s.deps.Chats.ChatHistory(c.Request().Context(), userID(c), page, limit)
	if err != nil {
		c.Logger().Errorf("chat history: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to fetch chat history"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"chats":      chats,
		"pagination": pagination,
	})
}

func (s *Server) handleChatClear(c echo.Context) error {
	if s.deps.Chats == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Chat history is not configured"})
	}
	if err := s.deps.Chats.ClearChatHistory(c.Request().Context(), userID(c)); err != nil {
		c.Logger().Errorf("clear chat history: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to clear chat history"})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Chat history cleared successfully"})
}

func (s *Server) handleSaveVoiceSession(c echo.Context) error {
	if s.deps.Sessions == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Session storage is not configured"})
	}
	var rec interview.Record
	if err := c.Bind(&rec); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if rec.SessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "sessionId is required"})
	}
	if err := s.deps.Sessions.SaveVoiceSession(c.Request().Context(), rec); err != nil {
		c.Logger().Errorf("save voice session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to save interview session"})
	}
	if m := s.deps.Metrics; m != nil {
		m.SessionsSaved.Inc()
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Interview session saved successfully"})
}

func (s *Server) handleVoiceSessions(c echo.Context) error {
	if s.deps.Sessions == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Session storage is not configured"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	sessions, err := s.deps.Sessions.VoiceSessions(c.Request().Context(), limit)
	if err != nil {
		c.Logger().Errorf("list voice sessions: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to fetch interview sessions"})
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// requestMetrics records one labeled counter and duration observation per
// finished request. The metrics and websocket endpoints are long-lived or
// self-referential and stay unmeasured.
func requestMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" || strings.HasPrefix(c.Path(), "/ws/") {
				return next(c)
			}
			started := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			m.RecordHTTPRequest(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(c.Response().Status),
				time.Since(started).Seconds(),
			)
			return err
		}
	}
}

// userID resolves the storage scope for a request. Accounts are not part
// of this service; an explicit X-User-ID header keeps multi-user data
// separable behind a gateway.
func userID(c echo.Context) int {
	if v := c.Request().Header.Get("X-User-ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil && id > 0 {
			return id
		}
	}
	return defaultUserID
}
