// Package admin exposes the operator API: the live controller status,
// agent, position and decision views, plus a manual cycle trigger. All
// other mutation happens through the CLI and config.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/decision"
	"tradewind/internal/logger"
	"tradewind/internal/pkg/failsafe"
	"tradewind/internal/scheduler"
	"tradewind/internal/state"
	"tradewind/internal/store"
	"tradewind/internal/store/decisionlog"
	"tradewind/internal/store/model"
	"tradewind/internal/trader"

	"github.com/gin-gonic/gin"
)

// Deps is everything the API reads from.
type Deps struct {
	Config    func() *config.Config
	Scheduler *scheduler.Scheduler
	State     *state.Manager
	Failsafe  *failsafe.Handler
	Store     store.Store
	Decisions *decisionlog.Store
	Positions *trader.PositionManager
	Orders    *trader.OrderManager
	StartedAt time.Time
}

type Server struct {
	deps Deps
	srv  *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{deps: deps}
	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/agents", s.handleAgents)
	api.GET("/positions", s.handlePositions)
	api.GET("/decisions", s.handleDecisions)
	api.POST("/trigger", s.handleTrigger)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocking; run on its own goroutine.
func (s *Server) Start() error {
	logger.Infof("admin api listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Status is the payload behind /api/status and the CLI's status --json.
type Status struct {
	Running          bool           `json:"running"`
	CycleRunning     bool           `json:"cycle_running"`
	CycleCount       int64          `json:"cycle_count"`
	NextRunTime      time.Time      `json:"next_run_time"`
	ServiceStartTime string         `json:"service_start_time,omitempty"`
	LastCycleTime    string         `json:"last_cycle_time,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	LastErrorTime    string         `json:"last_error_time,omitempty"`
	UptimeSeconds    float64        `json:"uptime_seconds"`
	Failsafe         failsafe.Stats `json:"failsafe"`
}

func (s *Server) handleStatus(c *gin.Context) {
	st := Status{
		Running:       true,
		CycleRunning:  s.deps.Scheduler.IsRunning(),
		CycleCount:    s.deps.State.CycleCount(),
		NextRunTime:   s.deps.Scheduler.NextRunTime(),
		UptimeSeconds: time.Since(s.deps.StartedAt).Seconds(),
		Failsafe:      s.deps.Failsafe.Statistics(),
	}
	if t, ok := s.deps.State.ServiceStartTime(); ok {
		st.ServiceStartTime = t.Format(time.RFC3339)
	}
	if t, ok := s.deps.State.LastCycleTime(); ok {
		st.LastCycleTime = t.Format(time.RFC3339)
	}
	st.LastError, st.LastErrorTime = s.deps.State.LastError()
	c.JSON(http.StatusOK, st)
}

// handleTrigger runs one out-of-band cycle and responds once it has
// completed, so the caller observes the post-cycle state.
func (s *Server) handleTrigger(c *gin.Context) {
	if err := s.deps.Scheduler.TriggerWait(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"triggered":   true,
		"cycle_count": s.deps.State.CycleCount(),
	})
}

type agentEntry struct {
	Agent model.AgentModel   `json:"agent"`
	PnL   *trader.PnLSummary `json:"pnl,omitempty"`
}

func (s *Server) handleAgents(c *gin.Context) {
	rows, err := s.deps.Store.ListAgents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]agentEntry, 0, len(rows))
	for _, row := range rows {
		entry := agentEntry{Agent: row}
		if s.deps.Orders != nil {
			if summary, err := s.deps.Orders.Summary(c.Request.Context(), row.ID); err == nil {
				entry.PnL = &summary
			}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

type agentPositions struct {
	AgentID   string                     `json:"agent_id"`
	Error     string                     `json:"error,omitempty"`
	Portfolio decision.PortfolioSnapshot `json:"portfolio"`
}

func (s *Server) handlePositions(c *gin.Context) {
	cfg := s.deps.Config()
	out := make([]agentPositions, 0, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		if !agent.Enabled {
			continue
		}
		entry := agentPositions{AgentID: agent.ID}
		snap, err := s.deps.Positions.Snapshot(c.Request.Context(), agent)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Portfolio = snap
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) handleDecisions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.deps.Decisions.ListRecent(c.Request.Context(), decisionlog.Query{
		AgentID: c.Query("agent"),
		Coin:    c.Query("coin"),
		Status:  c.Query("status"),
		Limit:   limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Prompt payloads are large and already on disk; the API serves the
	// decision itself.
	for i := range records {
		records[i].SystemPrompt = ""
		records[i].UserPrompt = ""
		records[i].RawOutput = ""
	}
	c.JSON(http.StatusOK, gin.H{"decisions": records})
}
