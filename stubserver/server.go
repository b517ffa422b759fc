// Package stubserver is an in-memory implementation of the translation
// service API. It backs the stub-server command for local development and
// the end-to-end tests of the engine.
//
// Translation is delegated to a Translator func; the default one prefixes
// each text with its language code. Jobs complete after a configurable
// number of polls, and completed translations accumulate in a cache served
// by GET /translate.
package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/bandapella/translatr-gradle-plugin/catalog"
	"github.com/bandapella/translatr-gradle-plugin/remote"
)

// Translator translates text into lang.
type Translator func(text, lang string) string

// Pseudo is the default translator: "[es] Hello".
func Pseudo(text, lang string) string {
	return "[" + lang + "] " + text
}

// Options configures a Server.
type Options struct {
	// APIKey, when set, is required in the X-API-Key header.
	APIKey string
	// Languages are used when a submission names none.
	Languages  []string
	Translator Translator
	// PollsBeforeComplete is the number of polls answered with
	// "processing" before a job completes.
	PollsBeforeComplete int
	Logger              zerolog.Logger

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Failures injects error responses. A zero status disables injection.
type Failures struct {
	Submit int
	Poll   int
	Cached int
	// FailJob makes completed jobs report status failed with this message.
	FailJob string
}

// Submission is a recorded POST /translate request.
type Submission struct {
	Strings   map[string]remote.SubmitEntry `json:"strings"`
	Languages []string                      `json:"languages"`
}

type job struct {
	id           string
	languages    []string
	translations catalog.Result
	cachedCount  int
	total        int
	polls        int
	createdAt    time.Time
	updatedAt    time.Time
}

// Server is the stub service. It is safe for concurrent use.
type Server struct {
	opts   Options
	logger zerolog.Logger

	mu          sync.Mutex
	jobs        map[string]*job
	cached      catalog.Result
	hashes      map[string]string
	failures    Failures
	submissions []Submission

	now func() time.Time
}

// New returns a server with an empty cache.
func New(opts Options) *Server {
	if opts.Translator == nil {
		opts.Translator = Pseudo
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		opts:   opts,
		logger: opts.Logger,
		jobs:   map[string]*job{},
		cached: catalog.Result{},
		hashes: map[string]string{},
		now:    time.Now,
	}
}

// SetFailures replaces the injected failures.
func (s *Server) SetFailures(f Failures) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = f
}

// Seed adds translations to the cache.
func (s *Server) Seed(r catalog.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = s.cached.Merge(r)
}

// Cached returns a copy of the cache.
func (s *Server) Cached() catalog.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached.Merge(nil)
}

// Submissions returns the recorded submissions in arrival order.
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submissions...)
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", c.Request().Header.Get(remote.HeaderRequestID)).
				Msg("http request")
			return nil
		},
	}))
	e.Use(s.requireAPIKey)

	e.POST("/translate", s.handleSubmit)
	e.GET("/translate", s.handleCached)
	e.GET("/translate/jobs/:id", s.handleJob)
	return e
}

// Start serves on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("stub server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("stub translation server started")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("stub translation server stopped")
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) fail(c echo.Context, status int, message string) error {
	return c.JSON(status, errorResponse{Error: http.StatusText(status), Message: message})
}

// injected answers with an injected failure status.
func (s *Server) injected(c echo.Context, status int) error {
	msg := "Injected failure"
	switch status {
	case http.StatusPaymentRequired:
		msg = "Insufficient credits"
	case http.StatusTooManyRequests:
		msg = "Rate limit exceeded"
	}
	return s.fail(c, status, msg)
}

func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.APIKey != "" && c.Request().Header.Get(remote.HeaderAPIKey) != s.opts.APIKey {
			return s.fail(c, http.StatusUnauthorized, "Invalid API key")
		}
		return next(c)
	}
}

func (s *Server) handleSubmit(c echo.Context) error {
	s.mu.Lock()
	failStatus := s.failures.Submit
	s.mu.Unlock()
	if failStatus != 0 {
		return s.injected(c, failStatus)
	}

	var req Submission
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, "Invalid request body")
	}
	if len(req.Strings) == 0 {
		return s.fail(c, http.StatusBadRequest, "No strings provided")
	}
	langs := req.Languages
	if len(langs) == 0 {
		langs = s.opts.Languages
	}
	if len(langs) == 0 {
		return s.fail(c, http.StatusBadRequest, "No target languages")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, req)

	now := s.now()
	j := &job{
		id:           uuid.NewString(),
		languages:    langs,
		translations: catalog.Result{},
		total:        len(req.Strings),
		createdAt:    now,
		updatedAt:    now,
	}
	for key, entry := range req.Strings {
		hash, hashed := entry.Hash()
		reused := hashed && s.hashes[key] == hash
		for _, lang := range langs {
			if text, ok := s.cached[key][lang]; ok && reused {
				j.translations.Set(key, lang, text)
				continue
			}
			j.translations.Set(key, lang, s.opts.Translator(entry.Text(), lang))
		}
		if reused {
			j.cachedCount++
		}
		if hashed {
			s.hashes[key] = hash
		}
	}
	s.jobs[j.id] = j

	return c.JSON(http.StatusAccepted, map[string]string{
		"jobId":     j.id,
		"status":    string(remote.StatusPending),
		"createdAt": now.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleJob(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures.Poll != 0 {
		return s.injected(c, s.failures.Poll)
	}
	j, ok := s.jobs[c.Param("id")]
	if !ok {
		return s.fail(c, http.StatusNotFound, "Job not found")
	}

	j.polls++
	j.updatedAt = s.now()
	steps := s.opts.PollsBeforeComplete + 1

	doc := remote.Job{
		ID:           j.id,
		StringsCount: j.total,
		UpdatedAt:    j.updatedAt.UTC().Format(time.RFC3339Nano),
	}

	switch {
	case j.polls < steps:
		done := j.total * j.polls / steps
		doc.Status = remote.StatusProcessing
		doc.Progress = float64(100 * j.polls / steps)
		doc.Meta = &remote.Meta{Cached: min(j.cachedCount, done), Translated: done - min(j.cachedCount, done), Total: j.total}
	case s.failures.FailJob != "":
		doc.Status = remote.StatusFailed
		doc.ErrorMessage = s.failures.FailJob
	default:
		if j.polls == steps {
			s.cached = s.cached.Merge(j.translations)
		}
		doc.Status = remote.StatusCompleted
		doc.Progress = 100
		doc.Translations = j.translations
		doc.Meta = &remote.Meta{Cached: j.cachedCount, Translated: j.total - j.cachedCount, Total: j.total}
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleCached(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures.Cached != 0 {
		return s.injected(c, s.failures.Cached)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"translations": s.cached,
		"meta": map[string]any{
			"totalStrings": len(s.cached),
			"languages":    s.cached.Languages(),
		},
	})
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok && strings.TrimSpace(m) != "" {
			message = m
		}
	}
	_ = s.fail(c, status, message)
}

// Languages returns the sorted languages held in the cache.
func (s *Server) Languages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached.Languages()
}
