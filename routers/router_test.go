package routers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"TopicToVideo-server/models"
	"TopicToVideo-server/routers/api"

	"github.com/gin-gonic/gin"
)

type emptyProjects struct{}

func (emptyProjects) Submit(context.Context, models.CreateParams) (*models.Project, error) {
	return &models.Project{ID: "p1", Status: models.StatusQueued}, nil
}
func (emptyProjects) Retry(context.Context, string) (*models.Project, error) {
	return nil, models.ErrProjectNotFound
}
func (emptyProjects) Delete(context.Context, string) error { return models.ErrProjectNotFound }
func (emptyProjects) Get(context.Context, string) (*models.Project, error) {
	return nil, models.ErrProjectNotFound
}
func (emptyProjects) List(context.Context) ([]models.Project, error) { return nil, nil }

func TestInitRouterRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := InitRouter(api.NewHandler(emptyProjects{}, nil))

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/v1/api/projects", http.StatusOK},
		{http.MethodGet, "/v1/api/projects/p1", http.StatusNotFound},
		{http.MethodPost, "/v1/api/projects/p1/retry", http.StatusNotFound},
		{http.MethodDelete, "/v1/api/projects/p1", http.StatusNotFound},
		{http.MethodPut, "/v1/api/projects/p1", http.StatusNotFound},
	}
	for _, tc := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, w.Code, tc.want)
		}
	}
}
