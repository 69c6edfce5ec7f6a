package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/model"
	"github.com/studio-ops/coordinator/internal/settings"
	syncmw "github.com/studio-ops/coordinator/internal/sync"
)

// fakeStore is a scriptable settings.Store.
type fakeStore struct {
	getResult    *model.AppSettings
	getErr       error
	upsertResult *model.AppSettings
	upsertErr    error
	upserted     []model.AppSettings
}

func (s *fakeStore) Get(context.Context, string, string, string) (*model.AppSettings, error) {
	return s.getResult, s.getErr
}

func (s *fakeStore) GetAll(context.Context) ([]model.AppSettings, error) { return nil, nil }

func (s *fakeStore) Upsert(_ context.Context, entity model.AppSettings) (*model.AppSettings, error) {
	s.upserted = append(s.upserted, entity)
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	if s.upsertResult != nil {
		return s.upsertResult, nil
	}
	entity.Version = 1
	return &entity, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

// testRouter mounts the handlers under the designer route so chi resolves
// the URL parameters the same way the API server does.
func testRouter(store settings.Store) http.Handler {
	logger := zap.NewNop()
	h := NewSettingsHandlers(settings.NewService(store, logger), logger, nil)

	r := chi.NewRouter()
	r.Route("/designer/api/{org}/{app}/settings", func(r chi.Router) {
		r.Get("/undeploy", h.HandleGetUndeploySettings)
		r.Put("/undeploy", h.HandleSetUndeploySettings)
	})
	return r
}

func TestHandleGetUndeploySettings(t *testing.T) {
	tests := []struct {
		name       string
		store      *fakeStore
		url        string
		wantStatus int
		wantFlag   bool
	}{
		{
			name:       "existing row returns its flag",
			store:      &fakeStore{getResult: &model.AppSettings{UndeployOnInactivity: true}},
			url:        "/designer/api/ttd/shop/settings/undeploy",
			wantStatus: http.StatusOK,
			wantFlag:   true,
		},
		{
			name:       "absent row reads as false",
			store:      &fakeStore{getErr: settings.ErrNotFound},
			url:        "/designer/api/ttd/shop/settings/undeploy",
			wantStatus: http.StatusOK,
			wantFlag:   false,
		},
		{
			name:       "environment query parameter is accepted",
			store:      &fakeStore{getResult: &model.AppSettings{UndeployOnInactivity: true}},
			url:        "/designer/api/ttd/shop/settings/undeploy?environment=staging",
			wantStatus: http.StatusOK,
			wantFlag:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := testRouter(tt.store)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var resp model.UndeploySettingsResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.UndeployOnInactivity != tt.wantFlag {
				t.Errorf("UndeployOnInactivity = %v, want %v", resp.UndeployOnInactivity, tt.wantFlag)
			}
		})
	}
}

func TestHandleGetUndeploySettingsInvalidNames(t *testing.T) {
	router := testRouter(&fakeStore{})

	tests := []struct {
		name string
		url  string
	}{
		{"invalid org characters", "/designer/api/bad%20org/shop/settings/undeploy"},
		{"invalid app characters", "/designer/api/ttd/sh*op/settings/undeploy"},
		{"invalid environment characters", "/designer/api/ttd/shop/settings/undeploy?environment=st%20aging"},
		{"oversized org", "/designer/api/" + strings.Repeat("a", 300) + "/shop/settings/undeploy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("Status = %d, want %d", rec.Code, http.StatusBadRequest)
			}

			var resp model.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if resp.Status != "error" {
				t.Errorf("Error status = %s, want error", resp.Status)
			}
		})
	}
}

func TestHandleSetUndeploySettings(t *testing.T) {
	store := &fakeStore{getErr: settings.ErrNotFound}
	router := testRouter(store)

	body := strings.NewReader(`{"undeployOnInactivity": true}`)
	req := httptest.NewRequest(http.MethodPut, "/designer/api/ttd/shop/settings/undeploy", body)
	req.Header.Set(syncmw.DeveloperHeader, "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want %d (body: %s)", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected empty body, got %s", rec.Body.String())
	}

	if len(store.upserted) != 1 {
		t.Fatalf("Upsert called %d times, want 1", len(store.upserted))
	}
	entity := store.upserted[0]
	if entity.Org != "ttd" || entity.App != "shop" || !entity.UndeployOnInactivity {
		t.Errorf("Upserted entity = %+v", entity)
	}
	if entity.LastModifiedBy != "alice" {
		t.Errorf("LastModifiedBy = %s, want alice", entity.LastModifiedBy)
	}
}

func TestHandleSetUndeploySettingsRequiresDeveloper(t *testing.T) {
	store := &fakeStore{}
	router := testRouter(store)

	body := strings.NewReader(`{"undeployOnInactivity": true}`)
	req := httptest.NewRequest(http.MethodPut, "/designer/api/ttd/shop/settings/undeploy", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(store.upserted) != 0 {
		t.Error("Upsert was called despite missing developer header")
	}
}

func TestHandleSetUndeploySettingsInvalidBody(t *testing.T) {
	router := testRouter(&fakeStore{})

	req := httptest.NewRequest(http.MethodPut, "/designer/api/ttd/shop/settings/undeploy", strings.NewReader("{"))
	req.Header.Set(syncmw.DeveloperHeader, "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleSetUndeploySettingsConflict(t *testing.T) {
	store := &fakeStore{
		getResult: &model.AppSettings{Org: "ttd", App: "shop", Version: 2},
		upsertErr: settings.ErrConcurrencyConflict,
	}
	router := testRouter(store)

	body := strings.NewReader(`{"undeployOnInactivity": false}`)
	req := httptest.NewRequest(http.MethodPut, "/designer/api/ttd/shop/settings/undeploy", body)
	req.Header.Set(syncmw.DeveloperHeader, "bob")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusConflict)
	}

	var resp model.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if !strings.Contains(resp.Message, "reload") {
		t.Errorf("Conflict message = %q, want a reload-and-retry hint", resp.Message)
	}
}
