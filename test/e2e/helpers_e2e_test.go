//go:build e2e

package e2e_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"
)

// getenv returns the value of the environment variable k or def if empty.
func getenv(k, def string) string { if v := os.Getenv(k); v != "" { return v }; return def }

func baseURL() string { return getenv("E2E_BASE_URL", "http://localhost:8080") }

// apiKey must match the API_KEY the server was started with; empty means the
// server runs with auth disabled.
func apiKey() string { return getenv("E2E_API_KEY", "") }

// waitForAppReady polls /health until the stack answers 200 or the timeout
// expires.
func waitForAppReady(t *testing.T, client *http.Client, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL() + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("app not ready after %v", timeout)
}

// doJSON performs one JSON request and decodes the response body into a map.
func doJSON(t *testing.T, client *http.Client, method, path string, body map[string]any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, baseURL()+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if k := apiKey(); k != "" {
		req.Header.Set("X-API-Key", k)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	dec := json.NewDecoder(resp.Body)
	// Some endpoints return arrays; callers that need those decode themselves.
	if err := dec.Decode(&out); err != nil {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, out
}

// getArray performs a GET that returns a JSON array of objects.
func getArray(t *testing.T, client *http.Client, path string) (int, []map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL()+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if k := apiKey(); k != "" {
		req.Header.Set("X-API-Key", k)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}
