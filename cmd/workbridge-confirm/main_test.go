package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsk(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		var req confirmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if len(req.Options) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"no observer connected"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(confirmResponse{Choice: 2, Option: req.Options[1]})
	}))
	defer ts.Close()

	res, err := ask(context.Background(), ts.URL, "s3cret", "Deploy?", []string{"Yes", "No"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Choice)
	assert.Equal(t, "No", res.Option)

	_, err = ask(context.Background(), ts.URL, "wrong", "Deploy?", []string{"Yes", "No"}, time.Second)
	assert.ErrorContains(t, err, "401")

	_, err = ask(context.Background(), ts.URL, "s3cret", "Deploy?", []string{"Yes"}, time.Second)
	assert.ErrorContains(t, err, "no observer connected")
}

func TestRequestTimeoutFromEnv(t *testing.T) {
	t.Setenv("WORKBRIDGE_CONFIRM_TIMEOUT", "")
	d, err := requestTimeout()
	require.NoError(t, err)
	assert.Equal(t, defaultRequestTimeout, d)

	t.Setenv("WORKBRIDGE_CONFIRM_TIMEOUT", "10m")
	d, err = requestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, d)

	t.Setenv("WORKBRIDGE_CONFIRM_TIMEOUT", "soon")
	_, err = requestTimeout()
	assert.Error(t, err)

	t.Setenv("WORKBRIDGE_CONFIRM_TIMEOUT", "-1s")
	_, err = requestTimeout()
	assert.Error(t, err)
}

func TestAskGivesUpAfterTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	start := time.Now()
	_, err := ask(context.Background(), ts.URL, "s3cret", "Deploy?", []string{"Yes", "No"}, 50*time.Millisecond)
	assert.ErrorContains(t, err, "contacting gateway")
	assert.Less(t, time.Since(start), 2*time.Second)
}
