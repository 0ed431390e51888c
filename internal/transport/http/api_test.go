package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"echoes-history-service/internal/app"
	"echoes-history-service/internal/domain"
)

func TestAPIContentRoutes(t *testing.T) {
	server := newTestServer(newTestService())
	defer server.Close()

	var eras app.ErasView
	getJSON(t, server.URL+"/api/eras", nil, http.StatusOK, &eras)
	if len(eras.Eras) != 1 || eras.Error != "" {
		t.Fatalf("unexpected eras %+v", eras)
	}

	var era app.EraView
	getJSON(t, server.URL+"/api/eras/era-1/events", nil, http.StatusOK, &era)
	if len(era.Events) != 2 || era.Events[0].ID != "ev1" {
		t.Fatalf("unexpected events %+v", era)
	}

	var ev eventView
	getJSON(t, server.URL+"/api/eras/era-1/events/ev1", nil, http.StatusOK, &ev)
	if ev.Event.Title != "Trận Bạch Đằng" || ev.TextBlocks != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
	getJSON(t, server.URL+"/api/eras/era-1/events/nope", nil, http.StatusNotFound, nil)

	var unknown app.EraView
	getJSON(t, server.URL+"/api/eras/nope/events", nil, http.StatusOK, &unknown)
	if unknown.Error == "" || len(unknown.Events) != 0 {
		t.Fatalf("expected error view for unknown era, got %+v", unknown)
	}

	resp, err := http.Post(server.URL+"/api/eras/era-1/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on refresh, got %d", resp.StatusCode)
	}
}

func TestAPIProgress(t *testing.T) {
	server := newTestServer(newTestService())
	defer server.Close()
	headers := map[string]string{"X-User-ID": "u1"}

	getJSON(t, server.URL+"/api/progress/ev1", nil, http.StatusUnauthorized, nil)

	var p domain.HistoryProgress
	getJSON(t, server.URL+"/api/progress/ev1", headers, http.StatusOK, &p)
	if p.EventID != "ev1" || p.ReadRatio != 0 || p.Attempts == nil {
		t.Fatalf("unexpected default progress %+v", p)
	}

	postJSON(t, server.URL+"/api/progress/ev1", headers, `{"readRatio":0.5}`, http.StatusOK, &p)
	if p.ReadRatio != 0.5 || p.CompletedAt != nil {
		t.Fatalf("unexpected progress %+v", p)
	}
	postJSON(t, server.URL+"/api/progress/ev1", headers, `{"blocksRead":2,"eraId":"era-1"}`, http.StatusOK, &p)
	if p.ReadRatio != 1 || p.CompletedAt == nil {
		t.Fatalf("expected completion from blocks read, got %+v", p)
	}
	postJSON(t, server.URL+"/api/progress/ev1", headers, `{"readRatio":0.2}`, http.StatusOK, &p)
	if p.ReadRatio != 1 {
		t.Fatalf("read ratio must not regress, got %v", p.ReadRatio)
	}

	postJSON(t, server.URL+"/api/progress/ev1?userId=u2", nil, `{}`, http.StatusBadRequest, nil)
	postJSON(t, server.URL+"/api/progress/ev1?userId=u2", nil, `not json`, http.StatusBadRequest, nil)
}

func TestAPIHealthz(t *testing.T) {
	server := newTestServer(newTestService())
	defer server.Close()
	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func getJSON(t *testing.T, url string, headers map[string]string, status int, out any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	do(t, req, headers, status, out)
}

func postJSON(t *testing.T, url string, headers map[string]string, body string, status int, out any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	do(t, req, headers, status, out)
}

func do(t *testing.T, req *http.Request, headers map[string]string, status int, out any) {
	t.Helper()
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("%s %s: expected %d, got %d", req.Method, req.URL, status, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}
