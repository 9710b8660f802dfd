package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"icerline/internal/config"
	"icerline/internal/db"
	"icerline/internal/domain"
	"icerline/internal/engine"
	"icerline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("org-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.SeedCatalog(context.Background(), "tester"); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if err := e.Repo.UpsertOrgConfig(context.Background(), cfg.Org.ID, cfg); err != nil {
		t.Fatalf("seed org config: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

var actorHeaders = map[string]string{"X-Actor-Id": "tester"}

func TestEvaluationFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	tplRes, tplBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/templates", map[string]any{
		"milestone":   "DAY_1",
		"target_role": "COLLABORATOR",
		"title":       "Day one self-evaluation",
		"questions": []map[string]any{
			{"dimension_code": "INT", "text": "How integrated do you feel?", "type": "SCALE_1_4", "required": true},
			{"dimension_code": "COM", "text": "Anything unclear?", "type": "OPEN_TEXT", "required": false},
		},
	}, actorHeaders)
	if tplRes.StatusCode != http.StatusCreated {
		t.Fatalf("create template status %d: %s", tplRes.StatusCode, string(tplBody))
	}
	var tpl domain.Template
	if err := json.Unmarshal(tplBody, &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}

	actRes, actBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/templates/"+tpl.ID+"/activate", nil, actorHeaders)
	if actRes.StatusCode != http.StatusOK {
		t.Fatalf("activate status %d: %s", actRes.StatusCode, string(actBody))
	}

	colRes, colBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/collaborators", map[string]any{
		"name":    "Ana",
		"project": "atlas",
	}, actorHeaders)
	if colRes.StatusCode != http.StatusCreated {
		t.Fatalf("create collaborator status %d: %s", colRes.StatusCode, string(colBody))
	}
	var collab domain.Collaborator
	_ = json.Unmarshal(colBody, &collab)

	asgRes, asgBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/collaborators/"+collab.ID+"/assignments", map[string]any{
		"milestone": "DAY_1",
	}, actorHeaders)
	if asgRes.StatusCode != http.StatusCreated {
		t.Fatalf("assign status %d: %s", asgRes.StatusCode, string(asgBody))
	}
	var assignments []domain.Assignment
	if err := json.Unmarshal(asgBody, &assignments); err != nil {
		t.Fatalf("unmarshal assignments: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("expected one DAY_1 assignment, got %d", len(assignments))
	}

	subRes, subBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+assignments[0].ID+"/submit", map[string]any{
		"answers": []map[string]any{
			{"question_id": tpl.Questions[0].ID, "value": 2},
		},
	}, actorHeaders)
	if subRes.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", subRes.StatusCode, string(subBody))
	}
	var submitted domain.Assignment
	_ = json.Unmarshal(subBody, &submitted)
	if submitted.Status != "COMPLETED" || submitted.Score == nil || *submitted.Score != 2.0 {
		t.Fatalf("unexpected submitted assignment: %s %v", submitted.Status, submitted.Score)
	}

	resRes, resBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/collaborators/"+collab.ID+"/results", nil, actorHeaders)
	if resRes.StatusCode != http.StatusOK {
		t.Fatalf("results status %d: %s", resRes.StatusCode, string(resBody))
	}
	var results []domain.MilestoneResult
	if err := json.Unmarshal(resBody, &results); err != nil {
		t.Fatalf("unmarshal results: %v", err)
	}
	if len(results) != 1 || results[0].RiskLevel != "MEDIUM" {
		t.Fatalf("expected one MEDIUM result, got %v", results)
	}

	recRes, recBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/results/"+results[0].ID+"/recommendation", nil, actorHeaders)
	if recRes.StatusCode != http.StatusOK {
		t.Fatalf("recommendation status %d: %s", recRes.StatusCode, string(recBody))
	}
	var rec domain.Recommendation
	_ = json.Unmarshal(recBody, &rec)
	if rec.PlanCode == nil || *rec.PlanCode != "PD-30" {
		t.Fatalf("expected PD-30 for MEDIUM risk, got %v", rec.PlanCode)
	}
	if !rec.ManualAssignment {
		t.Fatalf("recommendations must stay advisory")
	}

	evtRes, evtBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=result.consolidated", nil, actorHeaders)
	if evtRes.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", evtRes.StatusCode, string(evtBody))
	}
	var events paginatedEvents
	if err := json.Unmarshal(evtBody, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Items) == 0 {
		t.Fatalf("expected consolidation events")
	}
}

func TestAuthRequiredAndDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/collaborators", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(body))
	}
	var envelope errorEnvelope
	_ = json.Unmarshal(body, &envelope)
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Error.Code)
	}

	// /health stays open
	healthRes, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", healthRes.StatusCode)
	}

	loginRes, loginBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "dev-user",
	}, nil)
	if loginRes.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", loginRes.StatusCode, string(loginBody))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(loginBody, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token, got %s (%v)", string(loginBody), err)
	}

	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", meRes.StatusCode, string(meBody))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(meBody, &who)
	if who.ActorID != "dev-user" || who.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", who)
	}

	badRes, badBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if badRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d: %s", badRes.StatusCode, string(badBody))
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	tplRes, tplBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/templates", map[string]any{
		"milestone":   "DAY_1",
		"target_role": "COLLABORATOR",
		"title":       "Day one",
		"questions": []map[string]any{
			{"dimension_code": "INT", "text": "q1", "type": "SCALE_1_4", "required": true},
			{"dimension_code": "REN", "text": "q2", "type": "SCALE_1_4", "required": true},
		},
	}, actorHeaders)
	if tplRes.StatusCode != http.StatusCreated {
		t.Fatalf("create template: %d %s", tplRes.StatusCode, string(tplBody))
	}
	var tpl domain.Template
	_ = json.Unmarshal(tplBody, &tpl)
	actRes, actBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/templates/"+tpl.ID+"/activate", nil, actorHeaders)
	if actRes.StatusCode != http.StatusOK {
		t.Fatalf("activate: %d %s", actRes.StatusCode, string(actBody))
	}

	colRes, colBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/collaborators", map[string]any{"name": "Bo"}, actorHeaders)
	if colRes.StatusCode != http.StatusCreated {
		t.Fatalf("create collaborator: %d %s", colRes.StatusCode, string(colBody))
	}
	var collab domain.Collaborator
	_ = json.Unmarshal(colBody, &collab)

	asgRes, asgBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/collaborators/"+collab.ID+"/assignments", map[string]any{"milestone": "DAY_1"}, actorHeaders)
	if asgRes.StatusCode != http.StatusCreated {
		t.Fatalf("assign: %d %s", asgRes.StatusCode, string(asgBody))
	}
	var assignments []domain.Assignment
	_ = json.Unmarshal(asgBody, &assignments)

	// duplicate assignment
	dupRes, dupBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/collaborators/"+collab.ID+"/assignments", map[string]any{"milestone": "DAY_1"}, actorHeaders)
	if dupRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 duplicate, got %d: %s", dupRes.StatusCode, string(dupBody))
	}
	var dup errorEnvelope
	_ = json.Unmarshal(dupBody, &dup)
	if dup.Error.Code != "duplicate_assignment" {
		t.Fatalf("expected duplicate_assignment, got %q", dup.Error.Code)
	}

	// incomplete submission
	incRes, incBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+assignments[0].ID+"/submit", map[string]any{
		"answers": []map[string]any{
			{"question_id": tpl.Questions[0].ID, "value": 3},
		},
	}, actorHeaders)
	if incRes.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 incomplete, got %d: %s", incRes.StatusCode, string(incBody))
	}
	var inc errorEnvelope
	_ = json.Unmarshal(incBody, &inc)
	if inc.Error.Code != "incomplete_answers" {
		t.Fatalf("expected incomplete_answers, got %q", inc.Error.Code)
	}
	if inc.Error.Details["missing"] == nil {
		t.Fatalf("expected missing question ids in details: %s", string(incBody))
	}

	// unknown collaborator
	nfRes, nfBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/collaborators/nope", nil, actorHeaders)
	if nfRes.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", nfRes.StatusCode, string(nfBody))
	}
	var nf errorEnvelope
	_ = json.Unmarshal(nfBody, &nf)
	if nf.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", nf.Error.Code)
	}

	// missing body
	emptyRes, emptyBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/collaborators", nil, actorHeaders)
	if emptyRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d: %s", emptyRes.StatusCode, string(emptyBody))
	}
}
