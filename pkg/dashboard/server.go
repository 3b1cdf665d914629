// Package dashboard serves the read-only monitoring surface: a small HTML
// status page, a JSON API, and the Prometheus metrics endpoint.
package dashboard

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"

	"github.com/queuectl/queuectl/pkg/job"
	"github.com/queuectl/queuectl/pkg/store"
	"github.com/queuectl/queuectl/pkg/telemetry"
)

var log = logging.Logger("dashboard")

// heartbeatWindow is the staleness bound for counting a worker as active.
const heartbeatWindow = 10 * time.Second

type serverConfig struct {
	errorReporting bool
}

// Option configures the dashboard server.
type Option func(c *serverConfig)

// WithErrorReporting wraps the server so handler errors reach the configured
// error reporter. Requires telemetry.SetupErrorReporting to have run.
func WithErrorReporting() Option {
	return func(c *serverConfig) {
		c.errorReporting = true
	}
}

type Server struct {
	store *store.Store
}

// NewServer builds the echo mux over a read-only store handle.
func NewServer(s *store.Store) *echo.Echo {
	srv := &Server{store: s}
	mux := echo.New()
	mux.HideBanner = true
	mux.GET("/", srv.index)
	mux.GET("/api/status", srv.apiStatus)
	mux.GET("/api/jobs", srv.apiJobs)
	mux.GET("/api/workers", srv.apiWorkers)
	mux.GET("/metrics", srv.metrics)
	return mux
}

// ListenAndServe starts the dashboard and blocks until the listener fails.
func ListenAndServe(addr string, s *store.Store, options ...Option) error {
	cfg := serverConfig{}
	for _, opt := range options {
		opt(&cfg)
	}

	var handler http.Handler = NewServer(s)
	if cfg.errorReporting {
		handler = sentryhttp.New(sentryhttp.Options{}).Handle(handler)
	}

	srv := &http.Server{Addr: addr, Handler: handler}
	log.Infof("dashboard listening on %s", addr)
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// internalError reports a handler failure and converts it into a 500.
func internalError(c echo.Context, err error) *echo.HTTPError {
	telemetry.ReportError(c.Request().Context(), err)
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

type statusResponse struct {
	Counts        map[job.State]int `json:"counts"`
	Total         int               `json:"total"`
	ActiveWorkers int               `json:"active_workers"`
	Metrics       store.Metrics     `json:"metrics"`
}

func (s *Server) status(c echo.Context) (statusResponse, error) {
	ctx := c.Request().Context()
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return statusResponse{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	active, err := s.store.CountActiveWorkers(ctx, heartbeatWindow)
	if err != nil {
		return statusResponse{}, err
	}
	metrics, err := s.store.GetMetrics(ctx)
	if err != nil {
		return statusResponse{}, err
	}
	return statusResponse{Counts: counts, Total: total, ActiveWorkers: active, Metrics: metrics}, nil
}

func (s *Server) apiStatus(c echo.Context) error {
	resp, err := s.status(c)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) apiJobs(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		jobs []*job.Job
		err  error
	)
	if stateParam := c.QueryParam("state"); stateParam != "" {
		state, perr := job.ParseState(stateParam)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, perr.Error())
		}
		jobs, err = s.store.ListByState(ctx, state)
	} else {
		jobs, err = s.store.ListAll(ctx)
	}
	if err != nil {
		return internalError(c, err)
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (s *Server) apiWorkers(c echo.Context) error {
	workers, err := s.store.ListWorkers(c.Request().Context())
	if err != nil {
		return internalError(c, err)
	}
	if workers == nil {
		workers = []job.WorkerRegistration{}
	}
	return c.JSON(http.StatusOK, workers)
}

// metrics emits the Prometheus text exposition format. Families and names
// are part of the public contract, so they are written directly rather than
// through a metrics SDK that rewrites names.
func (s *Server) metrics(c echo.Context) error {
	resp, err := s.status(c)
	if err != nil {
		return internalError(c, err)
	}

	var b strings.Builder
	b.WriteString("# HELP queue_jobs_total Number of jobs by state.\n")
	b.WriteString("# TYPE queue_jobs_total gauge\n")
	for _, state := range job.States {
		fmt.Fprintf(&b, "queue_jobs_total{state=%q} %d\n", state, resp.Counts[state])
	}
	b.WriteString("# HELP queue_active_workers Number of workers with a recent heartbeat.\n")
	b.WriteString("# TYPE queue_active_workers gauge\n")
	fmt.Fprintf(&b, "queue_active_workers %d\n", resp.ActiveWorkers)

	var avg int64
	if resp.Metrics.AvgDurationMS != nil {
		avg = *resp.Metrics.AvgDurationMS
	}
	b.WriteString("# HELP queue_avg_duration_ms Average duration of the last 20 completed jobs.\n")
	b.WriteString("# TYPE queue_avg_duration_ms gauge\n")
	fmt.Fprintf(&b, "queue_avg_duration_ms %d\n", avg)

	b.WriteString("# HELP queue_completed_last_min Jobs completed in the last 60 seconds.\n")
	b.WriteString("# TYPE queue_completed_last_min counter\n")
	fmt.Fprintf(&b, "queue_completed_last_min %d\n", resp.Metrics.CompletedLastMin)

	return c.String(http.StatusOK, b.String())
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><title>queuectl</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
td, th { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
h2 { margin-bottom: 0.3em; }
</style>
</head>
<body>
<h1>queuectl</h1>
<h2>Jobs</h2>
<table>
<tr><th>State</th><th>Count</th></tr>
{{range .States}}<tr><td>{{.Name}}</td><td>{{.Count}}</td></tr>{{end}}
<tr><th>Total</th><th>{{.Total}}</th></tr>
</table>
<h2>Workers</h2>
<table><tr><td>Active workers</td><td>{{.ActiveWorkers}}</td></tr></table>
<h2>Metrics</h2>
<table>
<tr><td>Average duration (last 20)</td><td>{{.AvgDuration}}</td></tr>
<tr><td>Completed last minute</td><td>{{.CompletedLastMin}}</td></tr>
</table>
<h2>Recent jobs</h2>
<table>
<tr><th>ID</th><th>State</th><th>Attempts</th><th>Created</th></tr>
{{range .Recent}}<tr><td>{{.ID}}</td><td>{{.State}}</td><td>{{.Attempts}}/{{.MaxRetries}}</td><td>{{.Created}}</td></tr>{{end}}
</table>
<p><a href="/api/status">status</a> · <a href="/api/jobs">jobs</a> · <a href="/api/workers">workers</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`))

type indexState struct {
	Name  string
	Count int
}

type indexRecentJob struct {
	ID         string
	State      string
	Attempts   int
	MaxRetries int
	Created    string
}

type indexData struct {
	States           []indexState
	Total            int
	ActiveWorkers    int
	AvgDuration      string
	CompletedLastMin int
	Recent           []indexRecentJob
}

func (s *Server) index(c echo.Context) error {
	resp, err := s.status(c)
	if err != nil {
		return internalError(c, err)
	}
	jobs, err := s.store.ListAll(c.Request().Context())
	if err != nil {
		return internalError(c, err)
	}
	if len(jobs) > 10 {
		jobs = jobs[:10]
	}

	data := indexData{
		Total:            resp.Total,
		ActiveWorkers:    resp.ActiveWorkers,
		AvgDuration:      "n/a",
		CompletedLastMin: resp.Metrics.CompletedLastMin,
	}
	if resp.Metrics.AvgDurationMS != nil {
		data.AvgDuration = fmt.Sprintf("%d ms", *resp.Metrics.AvgDurationMS)
	}
	for _, state := range job.States {
		data.States = append(data.States, indexState{Name: string(state), Count: resp.Counts[state]})
	}
	for _, j := range jobs {
		data.Recent = append(data.Recent, indexRecentJob{
			ID:         j.ID,
			State:      string(j.State),
			Attempts:   j.Attempts,
			MaxRetries: j.MaxRetries,
			Created:    j.CreatedAt.Format(time.DateTime),
		})
	}

	var b strings.Builder
	if err := indexTemplate.Execute(&b, data); err != nil {
		return internalError(c, err)
	}
	return c.HTML(http.StatusOK, b.String())
}
