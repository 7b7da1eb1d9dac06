package ntfy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string, retries int) *Client {
	return NewClient(&Config{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	}, nil)
}

func TestClient_Publish(t *testing.T) {
	var gotPath, gotBody string
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer server.Close()

	client := testClient("http://unused.invalid", 0)
	client.config.Token = "default-token"
	resp, err := client.Publish(context.Background(), &Message{
		BaseURL: server.URL + "/",
		Topic:   "/ops alerts/",
		Title:   "Résumé — Ticket Resolved",
		Body:    "Ticket TD-5 resolved",
		Headers: map[string]string{
			"X-TacticalDesk-Ticket": "TD-5\n",
			"X-Empty":               "   ",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"id":"abc"}`, resp.Body)

	assert.Equal(t, "/ops%20alerts", gotPath)
	assert.Equal(t, "Ticket TD-5 resolved", gotBody)
	assert.Equal(t, "Bearer default-token", gotHeaders.Get("Authorization"))
	assert.Equal(t, "Resume - Ticket Resolved", gotHeaders.Get("Title"))
	assert.Equal(t, "TD-5", gotHeaders.Get("X-TacticalDesk-Ticket"))
	assert.Empty(t, gotHeaders.Get("X-Empty"))
	assert.Equal(t, "text/plain; charset=utf-8", gotHeaders.Get("Content-Type"))
}

func TestClient_PublishRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := testClient(server.URL, 2).Publish(context.Background(), &Message{Topic: "ops", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_PublishDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := testClient(server.URL, 3).Publish(context.Background(), &Message{Topic: "ops", Body: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_PublishValidation(t *testing.T) {
	client := testClient("", 0)
	_, err := client.Publish(context.Background(), &Message{Topic: "ops"})
	assert.ErrorIs(t, err, ErrMissingBaseURL)

	_, err = testClient("https://ntfy.example.com", 0).Publish(context.Background(), &Message{Topic: " / "})
	assert.ErrorIs(t, err, ErrMissingTopic)

	_, err = client.Publish(context.Background(), nil)
	assert.Error(t, err)
}

func TestEscapeTopic(t *testing.T) {
	tests := map[string]string{
		"alerts":         "alerts",
		"/team/alerts/":  "team/alerts",
		"a b":            "a%20b",
		"ops~prod_1.x-y": "ops~prod_1.x-y",
		"über":           "%C3%BCber",
		"q?x=1":          "q%3Fx%3D1",
	}
	for in, want := range tests {
		assert.Equal(t, want, EscapeTopic(in), in)
	}
}

func TestSanitizeHeader(t *testing.T) {
	assert.Equal(t, "Cafe - Ticket Updated", SanitizeHeader("Café — Ticket\r\nUpdated"))
	assert.Equal(t, "", SanitizeHeader("  日本  "))
	assert.Equal(t, "a - b", SanitizeHeader("a – b"))
}
