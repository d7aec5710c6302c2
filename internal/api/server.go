package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/modules/enginemodule"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/history"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// Engine is the part of a session the API drives.
type Engine interface {
	ScanWith(p enginemodule.ScanParams) error
	ScanStop()
	TitleSet() *types.TitleSet
	FindTitleByIndex(index int) (*types.Title, error)
	GetPreview2(ctx context.Context, titleIndex, picture int, geo types.GeometrySettings, deinterlace bool) (*types.Image, error)

	JobInitByIndex(titleIndex int) (*types.Job, error)
	AddFilter(job *types.Job, id, settings string) error
	Add(job *types.Job) (string, error)
	Rem(id string) error
	Count() int
	Jobs() []*types.Job

	Start() error
	Pause() error
	Resume() error
	Stop()
	GetState() types.State
	GetState2() types.State
	Interjob() types.InterjobData

	Version() string
	Build() int
	CheckUpdate() (int, string)
}

// HistoryReader lists recorded pass jobs.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.JobRecord, error)
	ForJob(ctx context.Context, jobID string) ([]history.JobRecord, error)
}

// Options configures a Server.
type Options struct {
	// History backs /api/history. Without one the route reports 404.
	History HistoryReader
	// StateInterval is the websocket push cadence. Defaults to 200ms.
	StateInterval time.Duration
	Logger        hclog.Logger
}

// Server exposes an Engine over HTTP.
type Server struct {
	engine   Engine
	history  HistoryReader
	interval time.Duration
	upgrader websocket.Upgrader
	logger   hclog.Logger
	router   *gin.Engine
}

// NewServer builds the router for engine.
func NewServer(engine Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	interval := opts.StateInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	s := &Server{
		engine:   engine,
		history:  opts.History,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("api"),
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(s.logger), cors())

	api := r.Group("/api")
	{
		api.GET("/version", s.getVersion)
		api.GET("/state", s.getState)
		api.GET("/state/ws", s.streamState)
		api.GET("/interjob", s.getInterjob)

		api.GET("/titles", s.listTitles)
		api.GET("/titles/:title", s.getTitle)
		api.GET("/titles/:title/previews/:index", s.getPreview)
		api.POST("/scan", s.startScan)
		api.POST("/scan/stop", s.stopScan)

		jobs := api.Group("/jobs")
		{
			jobs.GET("", s.listJobs)
			jobs.POST("", s.addJob)
			jobs.DELETE("/:id", s.removeJob)
		}

		api.POST("/start", s.control(s.engine.Start))
		api.POST("/pause", s.control(s.engine.Pause))
		api.POST("/resume", s.control(s.engine.Resume))
		api.POST("/stop", s.control(func() error { s.engine.Stop(); return nil }))

		api.GET("/history", s.listHistory)
		api.GET("/history/:id", s.jobHistory)
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
