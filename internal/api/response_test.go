package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSONEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"id": "abc"})

	if w.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type application/json, got %q", ct)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !env.Success {
		t.Error("expected success true")
	}
	if env.Error != "" {
		t.Errorf("expected empty error, got %q", env.Error)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data to be a map, got %T", env.Data)
	}
	if data["id"] != "abc" {
		t.Errorf("expected id=abc, got %v", data["id"])
	}
}

func TestWritePageCarriesPagination(t *testing.T) {
	w := httptest.NewRecorder()
	writePage(w, http.StatusOK, []int{1, 2}, Pagination{Total: 10, Limit: 2, Offset: 4})

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !env.Success {
		t.Error("expected success true")
	}
	if env.Pagination == nil {
		t.Fatal("expected pagination block")
	}
	if env.Pagination.Total != 10 || env.Pagination.Limit != 2 || env.Pagination.Offset != 4 {
		t.Errorf("unexpected pagination: %+v", env.Pagination)
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusConflict, codeConflict, "already exists")

	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if env.Success {
		t.Error("expected success false")
	}
	if env.Error != codeConflict {
		t.Errorf("expected error %q, got %q", codeConflict, env.Error)
	}
	if env.Message != "already exists" {
		t.Errorf("expected message, got %q", env.Message)
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    pageParams
		wantErr bool
	}{
		{name: "defaults", query: "", want: pageParams{Limit: 50, Offset: 0}},
		{name: "explicit", query: "?limit=10&offset=20", want: pageParams{Limit: 10, Offset: 20}},
		{name: "limit capped", query: "?limit=9999", want: pageParams{Limit: 200, Offset: 0}},
		{name: "zero limit rejected", query: "?limit=0", wantErr: true},
		{name: "negative offset rejected", query: "?offset=-1", wantErr: true},
		{name: "non numeric rejected", query: "?limit=ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/leads"+tt.query, nil)
			pg, msg := parsePagination(r)
			if tt.wantErr {
				if msg == "" {
					t.Fatal("expected a validation message")
				}
				return
			}
			if msg != "" {
				t.Fatalf("unexpected validation message: %s", msg)
			}
			if pg != tt.want {
				t.Errorf("got %+v, want %+v", pg, tt.want)
			}
		})
	}
}
