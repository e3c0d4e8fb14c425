package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/annel0/tilesync/internal/client"
	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// StatusSource источник снимка состояния сессии. Реализуется *client.Client.
type StatusSource interface {
	Status() client.Status
}

// Config содержит конфигурацию статус-сервера
type Config struct {
	Addr   string       // адрес для прослушивания, по умолчанию 127.0.0.1:8089
	Source StatusSource // обязателен
	// Registry регистр для HTTP-метрик; nil означает дефолтный
	Registry *prometheus.Registry
}

// StatusResponse ответ GET /status
type StatusResponse struct {
	Session client.Status `json:"session"`
	Process ProcessStats  `json:"process"`
	Time    int64         `json:"server_time"`
}

// StatusServer локальный HTTP эндпоинт состояния клиента
type StatusServer struct {
	router  *gin.Engine
	source  StatusSource
	metrics *ProcessMetrics
	addr    string
	srv     *http.Server
	logger  *logging.Logger
}

// NewStatusServer создает статус-сервер с маршрутами /health, /status и /metrics
func NewStatusServer(cfg Config) (*StatusServer, error) {
	if cfg.Source == nil {
		return nil, errors.New("api: не задан источник состояния")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8089"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	logger := logging.GetComponentLogger("http")
	router.Use(otelgin.Middleware("tilesync_status"))
	router.Use(middleware.NewRequestLogger(logger).Handler())

	promMw := middleware.NewPrometheusMiddleware("tilesync", cfg.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	s := &StatusServer{
		router:  router,
		source:  cfg.Source,
		metrics: NewProcessMetrics(),
		addr:    cfg.Addr,
		logger:  logger,
	}
	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	return s, nil
}

// Handler возвращает http.Handler для встраивания и тестов
func (s *StatusServer) Handler() http.Handler { return s.router }

// handleHealth 200 пока сессия в Running, иначе 503
func (s *StatusServer) handleHealth(c *gin.Context) {
	st := s.source.Status()
	code := http.StatusOK
	status := "ok"
	if st.State != client.StateRunning.String() {
		code = http.StatusServiceUnavailable
		status = "down"
	}
	body := gin.H{
		"status": status,
		"state":  st.State,
		"time":   time.Now().Unix(),
	}
	if st.LastError != "" {
		body["error"] = st.LastError
	}
	c.JSON(code, body)
}

// handleStatus снимок сессии и процесса
func (s *StatusServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Session: s.source.Status(),
		Process: s.metrics.Snapshot(),
		Time:    time.Now().Unix(),
	})
}

// Start начинает слушать адрес. Обслуживание идёт в отдельной горутине.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server: %v", err)
		}
	}()
	s.logger.Info("status endpoint on http://%s", s.addr)
	return nil
}

// Addr фактический адрес после Start
func (s *StatusServer) Addr() string { return s.addr }

// Stop корректно останавливает сервер
func (s *StatusServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
