package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type geoFeature struct {
	Type       string                 `json:"type"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type geoCollection struct {
	Type     string       `json:"type"`
	Features []geoFeature `json:"features"`
}

func TestWebServer_MapGeoJSON(t *testing.T) {
	manager := newTestManager(t)
	applyTestScan(t, manager)
	server := NewWebServer(WebServerConfig{Address: ":0", Manager: manager})

	req := httptest.NewRequest(http.MethodGet, "/api/map/geojson", nil)
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", rr.Code, rr.Body.String())
	}
	if ctype := rr.Header().Get("Content-Type"); ctype != "application/geo+json" {
		t.Errorf("expected geo+json content type, got %q", ctype)
	}

	var fc geoCollection
	if err := json.Unmarshal(rr.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to decode feature collection: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected FeatureCollection, got %q", fc.Type)
	}

	// Bounds first, then the tracked pose, then one square per occupied cell.
	if len(fc.Features) != 3 {
		t.Fatalf("expected 3 features (bounds, pose, 1 cell), got %d", len(fc.Features))
	}

	bounds := fc.Features[0]
	if kind := bounds.Properties["kind"]; kind != "grid_bounds" {
		t.Errorf("expected first feature to be grid_bounds, got %v", kind)
	}
	if area, ok := bounds.Properties["area_m2"].(float64); !ok || area != 400 {
		t.Errorf("expected 400 m2 grid area, got %v", bounds.Properties["area_m2"])
	}
	if occ, ok := bounds.Properties["occupied_cells"].(float64); !ok || occ != 1 {
		t.Errorf("expected occupied_cells 1, got %v", bounds.Properties["occupied_cells"])
	}

	pose := fc.Features[1]
	if kind := pose.Properties["kind"]; kind != "pose" {
		t.Errorf("expected second feature to be the pose, got %v", kind)
	}

	cell := fc.Features[2]
	if kind := cell.Properties["kind"]; kind != "occupied_cell" {
		t.Errorf("expected third feature to be an occupied cell, got %v", kind)
	}
	prob, ok := cell.Properties["probability"].(float64)
	if !ok || prob <= 0.5 {
		t.Errorf("expected occupied probability above 0.5, got %v", cell.Properties["probability"])
	}
}

func TestWebServer_MapGeoJSON_EmptyGrid(t *testing.T) {
	// A fresh grid has no occupied cells and no pose, but the bounds
	// polygon is still worth returning.
	server := NewWebServer(WebServerConfig{Address: ":0", Manager: newTestManager(t)})

	req := httptest.NewRequest(http.MethodGet, "/api/map/geojson", nil)
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", rr.Code)
	}
	var fc geoCollection
	if err := json.Unmarshal(rr.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to decode feature collection: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected only the bounds feature, got %d features", len(fc.Features))
	}
	if kind := fc.Features[0].Properties["kind"]; kind != "grid_bounds" {
		t.Errorf("expected grid_bounds, got %v", kind)
	}
}

func TestWebServer_MapGeoJSON_BadRequests(t *testing.T) {
	server := NewWebServer(WebServerConfig{Address: ":0", Manager: newTestManager(t)})
	mux := server.setupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/api/map/geojson", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rr.Code)
	}

	bare := NewWebServer(WebServerConfig{Address: ":0"})
	req = httptest.NewRequest(http.MethodGet, "/api/map/geojson", nil)
	rr = httptest.NewRecorder()
	bare.setupRoutes().ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 without a manager, got %d", rr.Code)
	}
}
