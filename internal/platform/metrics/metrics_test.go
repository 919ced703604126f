package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, updateGauges func()) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler(updateGauges).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_counters_appear_in_scrape(t *testing.T) {
	m := New()
	m.IncRequests()
	m.IncSaves("manual")
	m.IncSaves("autosave")
	m.IncSaves("autosave")
	m.IncSaveFailures()
	m.IncBroadcasts()

	body := scrape(t, m, nil)
	for _, want := range []string{
		"tracklab_requests_total 1",
		`tracklab_saves_total{kind="manual"} 1`,
		`tracklab_saves_total{kind="autosave"} 2`,
		"tracklab_save_failures_total 1",
		"tracklab_broadcasts_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMetrics_gauges_refresh_on_scrape(t *testing.T) {
	m := New()
	body := scrape(t, m, func() {
		m.SetOpenSessions(3)
		m.SetStoredCompositions(12)
	})
	if !strings.Contains(body, "tracklab_open_sessions 3") {
		t.Error("open sessions gauge not refreshed")
	}
	if !strings.Contains(body, "tracklab_stored_compositions 12") {
		t.Error("stored compositions gauge not refreshed")
	}
}
