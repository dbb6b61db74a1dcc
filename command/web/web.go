package web

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cconfig "booking-stats/connectors/config"
	ccsv "booking-stats/connectors/csv"
	"booking-stats/connectors/postgres"
	creport "booking-stats/connectors/report"
	dconfig "booking-stats/domain/config"
	dreport "booking-stats/domain/report"
	"booking-stats/domain/weekly"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxUpload bounds the size of a booking export posted to /api/analyze.
const maxUpload = 32 << 20

// Run starts a small Echo web server exposing computed outputs as JSON and an optional SPA dashboard.
//
// Usage:
//
//	booking-stats web [-addr :8080] [-data ./data] [-ui ./ui/dist]
//
// Endpoints:
//
//	GET  /api/reports                 -> sources with a report_<name>.json
//	GET  /api/reports/:name           -> <data>/report_<name>.json
//	GET  /api/weekly/:name            -> <data>/weekly_<name>.csv
//	GET  /api/statistics/:name        -> <data>/statistics_<name>.csv
//	GET  /api/attendance/:name        -> <data>/attendance_<name>.csv
//	POST /api/analyze                 -> analysis of the posted export (raw body or multipart "file")
//	GET  /api/runs?limit=20           -> runs stored in Postgres (only with database.enabled)
//	GET  /healthz, /metrics
//
// When -ui points to a built Vite app (index.html exists), static files are served at / and
// unknown routes fall back to index.html for SPA routing.
func Run(args []string) error {
	cfg, err := cconfig.FromEnv()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Web.Addr, "http listen address (host:port)")
	dataDir := fs.String("data", cfg.Web.DataDir, "directory containing computed outputs")
	uiDir := fs.String("ui", cfg.Web.UIDir, "directory containing built UI (Vite dist)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Web.Addr = *addr
	cfg.Web.DataDir = *dataDir
	cfg.Web.UIDir = *uiDir

	var runs RunLister
	if cfg.Database.Enabled {
		url := cfg.Database.URL
		if url == "" {
			url = postgres.URLFromEnv()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
		store, err := postgres.Open(ctx, url, cfg.Database.Schema)
		cancel()
		if err != nil {
			slog.Error("web.db.open.error", "error", err)
			return err
		}
		defer store.Close()
		runs = store
	}

	e := NewServer(cfg, prometheus.NewRegistry(), runs)
	slog.Info("web.start", "addr", cfg.Web.Addr, "data", cfg.Web.DataDir, "db", runs != nil)
	return e.Start(cfg.Web.Addr)
}

// RunLister is the part of the Postgres store the server reads stored runs from.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]postgres.RunSummary, error)
}

type server struct {
	cfg      *dconfig.Config
	runs     RunLister
	requests *prometheus.CounterVec
	analyses *prometheus.CounterVec
	weeks    prometheus.Histogram
}

// NewServer builds the Echo instance. Collectors are registered on reg; /api/runs is
// only mounted when runs is non-nil.
func NewServer(cfg *dconfig.Config, reg *prometheus.Registry, runs RunLister) *echo.Echo {
	s := &server{
		cfg:  cfg,
		runs: runs,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_stats_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_stats_analyses_total",
			Help: "Uploaded exports analysed, by result.",
		}, []string{"result"}),
		weeks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "booking_stats_analysis_weeks",
			Help:    "Weeks per analysed export.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(s.requests, s.analyses, s.weeks)

	e := echo.New()
	e.HideBanner = true
	e.Use(s.countRequests)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// APIs
	e.GET("/api/reports", s.listReports)
	e.GET("/api/reports/:name", s.getReport)
	s.serveCSV(e, "/api/weekly/:name", ccsv.WeeklyFile)
	s.serveCSV(e, "/api/statistics/:name", ccsv.StatisticsFile)
	s.serveCSV(e, "/api/attendance/:name", ccsv.AttendanceFile)
	e.POST("/api/analyze", s.analyze)
	if runs != nil {
		e.GET("/api/runs", s.listRuns)
	}

	// Static UI (optional)
	indexPath := filepath.Join(cfg.Web.UIDir, "index.html")
	if fi, err := os.Stat(indexPath); err == nil && !fi.IsDir() {
		e.Static("/", cfg.Web.UIDir)
		e.GET("/", func(c echo.Context) error { return c.File(indexPath) })

		// Fallback to index.html for non-API 404s (SPA routing) while keeping static assets working
		e.HTTPErrorHandler = func(err error, c echo.Context) {
			if he, ok := err.(*echo.HTTPError); ok && he.Code == http.StatusNotFound {
				p := c.Request().URL.Path
				if !strings.HasPrefix(p, "/api") {
					_ = c.File(indexPath)
					return
				}
			}
			e.DefaultHTTPErrorHandler(err, c)
		}
	}
	return e
}

func (s *server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		code := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		return err
	}
}

func (s *server) listReports(c echo.Context) error {
	sources, err := creport.List(s.cfg.Web.DataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c.JSON(http.StatusOK, []string{})
		}
		return jsonError(c, http.StatusInternalServerError, err, s.cfg.Web.DataDir, "failed to list reports")
	}
	if sources == nil {
		sources = []string{}
	}
	return c.JSON(http.StatusOK, sources)
}

func (s *server) listRuns(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return jsonError(c, http.StatusBadRequest, errors.New("invalid limit"), "", "limit must be a positive integer")
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 12*time.Second)
	defer cancel()
	runs, err := s.runs.RecentRuns(ctx, limit)
	if err != nil {
		slog.Error("web.runs.error", "error", err)
		return jsonError(c, http.StatusInternalServerError, err, "", "failed to list runs")
	}
	if runs == nil {
		runs = []postgres.RunSummary{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *server) getReport(c echo.Context) error {
	name, ok := sourceParam(c)
	if !ok {
		return jsonError(c, http.StatusBadRequest, errors.New("invalid name"), c.Param("name"), "invalid report name")
	}
	path := filepath.Join(s.cfg.Web.DataDir, dreport.FileName(name))
	rep, err := creport.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return jsonError(c, http.StatusNotFound, errors.New("file not found"), path, "report is missing")
		}
		return jsonError(c, http.StatusInternalServerError, err, path, "failed to read report")
	}
	return c.JSON(http.StatusOK, rep)
}

// serveCSV registers a GET endpoint serving the CSV named by file(:name) as JSON rows.
func (s *server) serveCSV(e *echo.Echo, route string, file func(string) string) {
	e.GET(route, func(c echo.Context) error {
		name, ok := sourceParam(c)
		if !ok {
			return jsonError(c, http.StatusBadRequest, errors.New("invalid name"), c.Param("name"), "invalid source name")
		}
		path := filepath.Join(s.cfg.Web.DataDir, file(name))
		rows, err := readCSV(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return jsonError(c, http.StatusNotFound, errors.New("file not found"), path, "CSV file is missing")
			}
			return jsonError(c, http.StatusInternalServerError, err, path, "failed to read CSV")
		}
		return c.JSON(http.StatusOK, rows)
	})
}

// analyze runs the aggregator over an uploaded export. Query parameters override the
// configured anchor, k, method, percentile, skip_rows and skip_invalid.
func (s *server) analyze(c echo.Context) error {
	cfg := *s.cfg
	q := c.QueryParams()
	if v := q.Get("anchor"); v != "" {
		cfg.Weekly.Anchor = v
	}
	if v := q.Get("method"); v != "" {
		cfg.Weekly.ThresholdMethod = v
	}
	for key, dst := range map[string]*float64{"k": &cfg.Weekly.Multiplier, "percentile": &cfg.Weekly.Percentile} {
		if v := q.Get(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return s.analyzeFailed(c, http.StatusBadRequest, err, "invalid "+key)
			}
			*dst = f
		}
	}
	if v := q.Get("skip_rows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s.analyzeFailed(c, http.StatusBadRequest, err, "invalid skip_rows")
		}
		cfg.Input.SkipRows = n
	}
	if v := q.Get("skip_invalid"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s.analyzeFailed(c, http.StatusBadRequest, err, "invalid skip_invalid")
		}
		cfg.Input.SkipInvalidRows = b
	}
	if err := cfg.Validate(); err != nil {
		return s.analyzeFailed(c, http.StatusBadRequest, err, "invalid parameters")
	}
	agg, err := cfg.Aggregator()
	if err != nil {
		return s.analyzeFailed(c, http.StatusBadRequest, err, "invalid parameters")
	}

	body, source, err := uploadedExport(c)
	if err != nil {
		return s.analyzeFailed(c, http.StatusBadRequest, err, "failed to read upload")
	}
	defer body.Close()

	read, err := ccsv.ParseBookings(body, ccsv.ReadOptions{SkipRows: cfg.Input.SkipRows, SkipInvalidRows: cfg.Input.SkipInvalidRows})
	if err != nil {
		return s.analyzeFailed(c, http.StatusBadRequest, err, "failed to parse bookings")
	}
	rep, err := dreport.Build(source, read.Bookings, read.InvalidRows, agg, time.Now())
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, weekly.ErrEmptyInput) {
			status = http.StatusBadRequest
		}
		return s.analyzeFailed(c, status, err, "analysis failed")
	}

	s.analyses.WithLabelValues("ok").Inc()
	s.weeks.Observe(float64(rep.Weekly.Stats.Weeks))
	return c.JSON(http.StatusOK, rep)
}

func (s *server) analyzeFailed(c echo.Context, status int, err error, msg string) error {
	s.analyses.WithLabelValues("error").Inc()
	slog.Warn("web.analyze.error", "status", status, "error", err)
	return jsonError(c, status, err, "", msg)
}

// uploadedExport returns the multipart "file" field when present, else the raw body.
func uploadedExport(c echo.Context) (io.ReadCloser, string, error) {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxUpload)
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		return f, dreport.SourceName(fh.Filename), nil
	}
	source := c.QueryParam("source")
	if source == "" {
		source = "upload"
	}
	return req.Body, source, nil
}

func sourceParam(c echo.Context) (string, bool) {
	name := c.Param("name")
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}

func jsonError(c echo.Context, status int, err error, path, msg string) error {
	body := map[string]any{
		"error":   err.Error(),
		"message": msg,
	}
	if path != "" {
		body["path"] = path
	}
	return c.JSON(status, body)
}

// readCSV loads a CSV file and returns a slice of objects keyed by headers.
// Values are kept as strings to avoid lossy or incorrect type coercion.
func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	// Read all rows; CSVs are expected to be small.
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []map[string]string{}, nil
	}

	headers := records[0]
	res := make([]map[string]string, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		row := records[i]
		if len(row) == 0 {
			continue
		}
		obj := make(map[string]string, len(headers))
		for j := 0; j < len(headers) && j < len(row); j++ {
			obj[headers[j]] = row[j]
		}
		res = append(res, obj)
	}
	return res, nil
}
