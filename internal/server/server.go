package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"modelgate/internal/config"
	"modelgate/internal/credential"
	"modelgate/internal/gateway"
	"modelgate/internal/models"
	"modelgate/internal/provider"
)

const (
	maxBodyBytes        = 8 << 20 // embedding batches carry real payloads
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 320 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg        config.Config
	completion *gateway.Completion
	embedding  *gateway.Embedding
	app        *echo.Echo
	address    string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, completion *gateway.Completion, embedding *gateway.Embedding) (*Server, error) {
	if completion == nil || embedding == nil {
		return nil, errors.New("both gateways must be provided")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logrus.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"error":      v.Error,
			}).Info("request")
			return nil
		},
	}))

	srv := &Server{
		cfg:        cfg,
		completion: completion,
		embedding:  embedding,
		app:        e,
		address:    fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	logrus.WithField("addr", s.address).Info("starting server")

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logrus.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/complete", s.handleComplete)
	s.app.POST("/v1/embeddings", s.handleEmbeddings)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type completeRequest struct {
	Provider string `json:"provider,omitempty"`
	models.CompletionRequest
}

func (s *Server) handleComplete(c echo.Context) error {
	var req completeRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	c.Response().Header().Set("X-Correlation-Id", req.CorrelationID)

	res, err := s.completion.Complete(c.Request().Context(), req.Provider, req.CompletionRequest)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, res)
}

type embeddingsRequest struct {
	Texts    []string              `json:"texts"`
	Phase    models.EmbeddingPhase `json:"phase,omitempty"`
	Provider string                `json:"provider,omitempty"`
	Model    string                `json:"model,omitempty"`
}

func (s *Server) handleEmbeddings(c echo.Context) error {
	var req embeddingsRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if len(req.Texts) == 0 {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "texts must not be empty",
			Type:    "invalid_request_error",
		}
	}

	r := s.embedding.Embed(c.Request().Context(), req.Texts, req.Phase, req.Provider, req.Model)
	if !r.OK() {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: r.Message(),
			Type:    "upstream_error",
		}
	}

	return c.JSON(http.StatusOK, r.Data())
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func jsonErrorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	type httpError interface {
		Code() int
		Error() string
	}

	if he, ok := err.(httpError); ok {
		_ = writeError(c, he.Code(), he.Error(), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, provider.ErrUnknownProvider) || errors.Is(err, provider.ErrNoMessages) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}
	if errors.Is(err, credential.ErrExchangeFailed) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: err.Error(),
			Type:    "authentication_error",
		}
	}
	if errors.Is(err, provider.ErrUpstreamTransport) || errors.Is(err, provider.ErrUpstreamProtocol) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: err.Error(),
			Type:    "upstream_error",
		}
	}

	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream provider error",
		Type:    "upstream_error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("modelgate ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /v1/complete")
	fmt.Println("  POST /v1/embeddings")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/complete -H 'Content-Type: application/json' -d '{\"model\":\"gpt-4o-mini\",\"user_prompt\":\"hello\"}'\n\n", host, port)
}
