package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *StatusClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewStatusClientWithHTTPClient(server.Client(), server.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

var testKey = core.StatusKey{Owner: "svaarala", Repo: "duktape", SHA: "abc123", Context: "lint"}

func TestCreateStatus_Success(t *testing.T) {
	var got map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/svaarala/duktape/statuses/abc123", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1,"state":"success"}`))
	})

	err := client.CreateStatus(context.Background(), testKey, core.StatusStateSuccess, "12 passed", "https://ci/out/1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"state":       "success",
		"context":     "lint",
		"description": "12 passed",
		"target_url":  "https://ci/out/1",
	}, got)
}

func TestCreateStatus_Errors(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantGone bool
	}{
		{name: "unknown commit", code: http.StatusUnprocessableEntity, wantGone: true},
		{name: "server error", code: http.StatusBadGateway},
		{name: "forbidden", code: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})

			err := client.CreateStatus(context.Background(), testKey, core.StatusStatePending, "", "")
			require.Error(t, err)
			assert.Equal(t, tt.wantGone, errors.Is(err, core.ErrStatusTargetGone))
		})
	}
}

func TestCreateStatus_TruncatesDescription(t *testing.T) {
	var got map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})

	long := strings.Repeat("x", 200)
	require.NoError(t, client.CreateStatus(context.Background(), testKey, core.StatusStateFailure, long, ""))
	assert.Len(t, got["description"], maxDescriptionLength)
	assert.True(t, strings.HasSuffix(got["description"], "..."))
	_, hasTarget := got["target_url"]
	assert.False(t, hasTarget)
}

func TestCombinedStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/svaarala/duktape/commits/abc123/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"state":"pending","sha":"abc123","statuses":[{"context":"lint","state":"pending"}]}`))
	})

	combined, err := client.CombinedStatus(context.Background(), "svaarala", "duktape", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "pending", combined.GetState())
	require.Len(t, combined.Statuses, 1)
	assert.Equal(t, "lint", combined.Statuses[0].GetContext())
}

func TestNewHTTPClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := NewHTTPClient(&config.GitHubConfig{Token: "secret"}, logger)
	require.NoError(t, err)
	assert.NotNil(t, client.Transport)

	client, err = NewHTTPClient(&config.GitHubConfig{}, logger)
	require.NoError(t, err)
	assert.NotNil(t, client.Transport)

	_, err = NewHTTPClient(&config.GitHubConfig{AppID: 1, InstallationID: 2, PrivateKeyPath: "/does/not/exist.pem"}, logger)
	assert.Error(t, err)
}
