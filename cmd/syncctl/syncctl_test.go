package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is a long detail message", 10, "this is..."},
		{"abc", 3, "abc"},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestClientGetJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ledger" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(ledgerList{Items: []ledgerEntry{
			{BranchID: 7, LatestBuild: "20250102.1", LastStatus: "synced"},
		}})
	}))
	defer ts.Close()

	serverURL = ts.URL
	var list ledgerList
	if err := newClient().getJSON("/api/v1/ledger", &list); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].LatestBuild != "20250102.1" {
		t.Errorf("unexpected response: %+v", list)
	}
}

func TestClientErrorIncludesBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "synchronization already in progress"})
	}))
	defer ts.Close()

	serverURL = ts.URL
	err := newClient().postJSON("/api/v1/branches/1/sync", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "409") || !strings.Contains(got, "already in progress") {
		t.Errorf("error missing status or body: %v", err)
	}
}
