package source_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

// mockTransport routes requests by exact URL path and records every request
// it serves. Unrouted paths get a 404.
type mockTransport struct {
	routes   map[string]mockResponse
	err      error
	requests []*http.Request
}

type mockResponse struct {
	status int
	body   string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)

	if m.err != nil {
		return nil, m.err
	}

	if resp, ok := m.routes[req.URL.Path]; ok {
		return &http.Response{
			StatusCode: resp.status,
			Body:       io.NopCloser(strings.NewReader(resp.body)),
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (m *mockTransport) lastQuery(t *testing.T) url.Values {
	t.Helper()

	if len(m.requests) == 0 {
		t.Fatal("no requests were made")
	}

	return m.requests[len(m.requests)-1].URL.Query()
}
