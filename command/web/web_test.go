package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ccsv "booking-stats/connectors/csv"
	"booking-stats/connectors/postgres"
	creport "booking-stats/connectors/report"
	"booking-stats/domain/booking"
	dconfig "booking-stats/domain/config"
	dreport "booking-stats/domain/report"
	"booking-stats/domain/weekly"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const export = "Bookings export\nCreated Date,Attendee Status,Attended\n01/01/2024,Booked,Yes\n03/01/2024,Booked,No\n15/01/2024,Cancelled,\n"

func newTestServer(t *testing.T) (*echo.Echo, *dconfig.Config) {
	t.Helper()
	cfg := dconfig.Default()
	cfg.Web.DataDir = t.TempDir()
	cfg.Web.UIDir = filepath.Join(t.TempDir(), "missing")
	return NewServer(cfg, prometheus.NewRegistry(), nil), cfg
}

func do(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func seedReport(t *testing.T, dir string) {
	t.Helper()
	dates := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	bookings := make([]booking.Booking, 0, len(dates))
	for _, d := range dates {
		bookings = append(bookings, booking.Booking{CreatedAt: d, AttendeeStatus: "Booked"})
	}
	rep, err := dreport.Build("SRM22", bookings, 0, weekly.NewAggregator(), time.Now())
	require.NoError(t, err)
	require.NoError(t, creport.Write(filepath.Join(dir, dreport.FileName("SRM22")), rep))
	require.NoError(t, ccsv.WriteWeeklyCSV(filepath.Join(dir, ccsv.WeeklyFile("SRM22")), rep.Weekly.Bins))
	require.NoError(t, ccsv.WriteStatisticsCSV(filepath.Join(dir, ccsv.StatisticsFile("SRM22")), rep.Weekly.Stats, 0))
}

func TestHealthz(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReportsEndpoints(t *testing.T) {
	e, cfg := newTestServer(t)
	seedReport(t, cfg.Web.DataDir)

	rec := do(e, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Equal(t, []string{"SRM22"}, names)

	rec = do(e, httptest.NewRequest(http.MethodGet, "/api/reports/SRM22", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rep dreport.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "SRM22", rep.Source)
	assert.Len(t, rep.Weekly.Bins, 3)

	rec = do(e, httptest.NewRequest(http.MethodGet, "/api/reports/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReportsEmptyDir(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServeWeeklyCSV(t *testing.T) {
	e, cfg := newTestServer(t)
	seedReport(t, cfg.Web.DataDir)

	rec := do(e, httptest.NewRequest(http.MethodGet, "/api/weekly/SRM22", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[0]["week"])
	assert.Equal(t, "2", rows[0]["bookings"])
	assert.Equal(t, "0", rows[1]["bookings"])

	rec = do(e, httptest.NewRequest(http.MethodGet, "/api/statistics/SRM22", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Threshold")

	rec = do(e, httptest.NewRequest(http.MethodGet, "/api/attendance/SRM22", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectsTraversal(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, httptest.NewRequest(http.MethodGet, "/api/weekly/..", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeRawBody(t *testing.T) {
	e, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze?k=1&source=SRM22", strings.NewReader(export))
	req.Header.Set(echo.HeaderContentType, "text/csv")
	rec := do(e, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep dreport.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "SRM22", rep.Source)
	require.Len(t, rep.Weekly.Bins, 3)
	assert.Equal(t, []int{2, 0, 1}, []int{rep.Weekly.Bins[0].Count, rep.Weekly.Bins[1].Count, rep.Weekly.Bins[2].Count})
	assert.InDelta(t, 1.8165, rep.Weekly.Stats.Threshold, 1e-4)
	assert.Equal(t, 3, rep.Attendance.Total)
}

func TestAnalyzeMultipart(t *testing.T) {
	e, _ := newTestServer(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "D19.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(export))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze?anchor=min_date", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := do(e, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep dreport.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "D19", rep.Source)
	assert.Equal(t, weekly.AnchorMinDate, rep.Weekly.Policy)
}

func TestAnalyzeErrors(t *testing.T) {
	e, _ := newTestServer(t)
	cases := map[string]struct {
		query string
		body  string
	}{
		"bad k":          {"k=abc", export},
		"negative k":     {"k=-1", export},
		"bad anchor":     {"anchor=sunday", export},
		"bad percentile": {"method=percentile&percentile=120", export},
		"empty export":   {"", "title\nCreated Date\n"},
		"bad date":       {"", "title\nCreated Date\n2024-13-45\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/analyze?"+tc.query, strings.NewReader(tc.body))
			rec := do(e, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestMetrics(t *testing.T) {
	e, _ := newTestServer(t)
	do(e, httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(export)))
	do(e, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := do(e, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `booking_stats_analyses_total{result="ok"} 1`)
	assert.Contains(t, body, `booking_stats_http_requests_total{code="200",route="/healthz"} 1`)
	assert.Contains(t, body, "booking_stats_analysis_weeks_count 1")
}

func TestSPAFallback(t *testing.T) {
	cfg := dconfig.Default()
	cfg.Web.DataDir = t.TempDir()
	cfg.Web.UIDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Web.UIDir, "index.html"), []byte("<html>dash</html>"), 0o600))
	e := NewServer(cfg, prometheus.NewRegistry(), nil)

	rec := do(e, httptest.NewRequest(http.MethodGet, "/weeks/SRM22", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dash")

	rec = do(e, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n3,4\n"), 0o600))
	rows, err := readCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"a": "1", "b": "2"}, {"a": "3", "b": "4"}}, rows)
}

type fakeRuns struct {
	limit int
	runs  []postgres.RunSummary
	err   error
}

func (f *fakeRuns) RecentRuns(_ context.Context, limit int) ([]postgres.RunSummary, error) {
	f.limit = limit
	return f.runs, f.err
}

func TestRunsEndpoint(t *testing.T) {
	cfg := dconfig.Default()
	cfg.Web.DataDir = t.TempDir()
	cfg.Web.UIDir = filepath.Join(t.TempDir(), "missing")
	fake := &fakeRuns{runs: []postgres.RunSummary{{Source: "SRM22", Weeks: 3, Bookings: 3}}}
	e := NewServer(cfg, prometheus.NewRegistry(), fake)

	rec := do(e, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, fake.limit)
	var got []postgres.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "SRM22", got[0].Source)

	rec = do(e, httptest.NewRequest(http.MethodGet, "/api/runs?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fake.err = errors.New("db down")
	rec = do(e, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 20, fake.limit)
}

func TestRunsEndpointWithoutDatabase(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
