package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"TopicToVideo-server/models"
	"TopicToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type stubProjects struct {
	mu        sync.Mutex
	projects  map[string]*models.Project
	submitted []models.CreateParams
	retryErr  error
	submitErr error
	getCalls  int
	onGet     func(calls int, p *models.Project)
}

func newStubProjects() *stubProjects {
	return &stubProjects{projects: map[string]*models.Project{}}
}

func (s *stubProjects) Submit(_ context.Context, params models.CreateParams) (*models.Project, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, params)
	p := &models.Project{ID: fmt.Sprintf("p%d", len(s.submitted)), Topic: params.Topic, Status: models.StatusQueued}
	s.projects[p.ID] = p
	return p, nil
}

func (s *stubProjects) Retry(_ context.Context, id string) (*models.Project, error) {
	if s.retryErr != nil {
		return nil, s.retryErr
	}
	p, err := s.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	p.Status = models.StatusQueued
	return p, nil
}

func (s *stubProjects) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return models.ErrProjectNotFound
	}
	delete(s.projects, id)
	return nil
}

func (s *stubProjects) Get(_ context.Context, id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}
	s.getCalls++
	if s.onGet != nil {
		s.onGet(s.getCalls, p)
	}
	cp := *p
	return &cp, nil
}

func (s *stubProjects) List(context.Context) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Project{}
	for _, p := range s.projects {
		out = append(out, *p)
	}
	return out, nil
}

func newTestEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/projects", h.CreateProject)
	r.GET("/projects", h.ListProjects)
	r.GET("/projects/:project_id", h.GetProject)
	r.POST("/projects/:project_id/retry", h.RetryProject)
	r.DELETE("/projects/:project_id", h.DeleteProject)
	r.GET("/projects/:project_id/wss", h.ProjectProgressWebSocket)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateProject(t *testing.T) {
	stub := newStubProjects()
	r := newTestEngine(NewHandler(stub, nil))

	w := do(r, http.MethodPost, "/projects", `{"topic":"The mystery of X","format":"square","language":"it"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		ProjectID string `json:"project_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ProjectID != "p1" || resp.Status != "queued" {
		t.Fatalf("resp = %+v", resp)
	}
	if got := stub.submitted[0]; got.Format != models.FormatSquare || got.Language != "it" {
		t.Fatalf("submitted = %+v", got)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("%w: topic is required", service.ErrInvalidInput), http.StatusBadRequest},
		{"in flight", fmt.Errorf("%w: p1", service.ErrJobInFlight), http.StatusConflict},
		{"not found", models.ErrProjectNotFound, http.StatusNotFound},
		{"already completed", fmt.Errorf("%w: p1", service.ErrAlreadyCompleted), http.StatusConflict},
		{"other", errors.New("redis down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := newStubProjects()
			stub.submitErr = tc.err
			stub.retryErr = tc.err
			r := newTestEngine(NewHandler(stub, nil))

			if w := do(r, http.MethodPost, "/projects", `{"topic":"x"}`); w.Code != tc.want {
				t.Fatalf("create code = %d, want %d", w.Code, tc.want)
			}
			if w := do(r, http.MethodPost, "/projects/p1/retry", ""); w.Code != tc.want {
				t.Fatalf("retry code = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestGetRetryDeleteProject(t *testing.T) {
	stub := newStubProjects()
	stub.projects["p1"] = &models.Project{ID: "p1", Topic: "x", Status: models.StatusFailed}
	r := newTestEngine(NewHandler(stub, nil))

	if w := do(r, http.MethodGet, "/projects/p1", ""); w.Code != http.StatusOK {
		t.Fatalf("get code = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/projects/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing get code = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/projects/p1/retry", ""); w.Code != http.StatusAccepted {
		t.Fatalf("retry code = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/projects", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"p1"`) {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodDelete, "/projects/p1", ""); w.Code != http.StatusOK {
		t.Fatalf("delete code = %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/projects/p1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("second delete code = %d", w.Code)
	}
}

func TestProjectProgressWebSocket(t *testing.T) {
	stub := newStubProjects()
	stub.projects["p1"] = &models.Project{ID: "p1", Topic: "x", Status: models.StatusProcessingAudio}
	// advance one status per poll
	stub.onGet = func(calls int, p *models.Project) {
		switch calls {
		case 3:
			p.Status = models.StatusRendering
		case 5:
			p.Status = models.StatusCompleted
			p.VideoURL = "https://cdn.test/p1/final_video.mp4"
		}
	}
	h := NewHandler(stub, nil)
	h.pollInterval = 5 * time.Millisecond
	srv := httptest.NewServer(newTestEngine(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/projects/p1/wss"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var seen []models.Status
	for {
		var p models.Project
		if err := conn.ReadJSON(&p); err != nil {
			break
		}
		seen = append(seen, p.Status)
	}
	want := []models.Status{models.StatusProcessingAudio, models.StatusRendering, models.StatusCompleted}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("statuses = %v, want %v", seen, want)
	}
}
