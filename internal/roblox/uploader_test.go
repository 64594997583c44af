package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"decalpress/internal/pipeline"
)

type staticTokens struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *staticTokens) FetchWriteToken(context.Context, string) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

// fakeSleeper records requested waits without actually sleeping.
type fakeSleeper struct {
	waits []time.Duration
}

func (f *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	f.waits = append(f.waits, d)
	return nil
}

func newTestUploader(t *testing.T, handler http.Handler, tokens TokenSource, cfg UploaderConfig) (*Uploader, *fakeSleeper) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u := NewUploader(srv.Client(), tokens, Endpoints{
		UsersBaseURL: srv.URL,
		AuthBaseURL:  srv.URL,
		UploadURL:    srv.URL + "/assets",
	}, cfg, zap.NewNop())
	sleeper := &fakeSleeper{}
	u.sleep = sleeper.sleep
	return u, sleeper
}

func samplePublishRequest() pipeline.PublishRequest {
	return pipeline.PublishRequest{
		Payload:     []byte("png-bytes"),
		DisplayName: "abcd1234",
		Description: "efgh5678ijkl9012",
		Cookie:      "secret",
		CreatorID:   777,
		Filename:    "a.png",
	}
}

func TestPublishSuccess(t *testing.T) {
	tokens := &staticTokens{token: "tok"}
	var gotRequestField atomic.Value
	u, _ := newTestUploader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get(csrfHeader))
		assert.Contains(t, r.Header.Get("Cookie"), cookieName+"=secret")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotRequestField.Store(r.FormValue("request"))
		file, _, err := r.FormFile("fileContent")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), data)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"assetId": 42}`))
	}), tokens, UploaderConfig{})

	outcome := u.Publish(context.Background(), samplePublishRequest())
	require.Equal(t, pipeline.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 1, outcome.Attempts)
	assert.JSONEq(t, `{"assetId": 42}`, string(outcome.AssetMetadata))
	assert.Equal(t, int32(1), tokens.calls.Load())

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotRequestField.Load().(string)), &meta))
	assert.Equal(t, "Decal", meta["assetType"])
	assert.Equal(t, "abcd1234", meta["displayName"])
	ctxMeta := meta["creationContext"].(map[string]any)
	assert.Equal(t, float64(0), ctxMeta["expectedPrice"])
	assert.Equal(t, float64(777), ctxMeta["creator"].(map[string]any)["userId"])
}

func TestPublishRateLimitedOnceThenSucceeds(t *testing.T) {
	var requests atomic.Int32
	u, sleeper := newTestUploader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), &staticTokens{token: "tok"}, UploaderConfig{})

	outcome := u.Publish(context.Background(), samplePublishRequest())
	require.Equal(t, pipeline.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 2, outcome.Attempts)
	// The rate-limit wait honored the Retry-After header.
	require.Len(t, sleeper.waits, 1)
	assert.GreaterOrEqual(t, sleeper.waits[0], 3*time.Second)
}

func TestPublishRateLimitWithoutHeaderUsesDefault(t *testing.T) {
	var requests atomic.Int32
	u, sleeper := newTestUploader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), &staticTokens{token: "tok"}, UploaderConfig{DefaultRetryAfter: 7 * time.Second})

	outcome := u.Publish(context.Background(), samplePublishRequest())
	require.Equal(t, pipeline.OutcomeSuccess, outcome.Kind)
	require.Len(t, sleeper.waits, 1)
	assert.Equal(t, 7*time.Second, sleeper.waits[0])
}

func TestPublishModeratedSurfacesImmediately(t *testing.T) {
	var requests atomic.Int32
	u, sleeper := newTestUploader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"message":"User is moderated."}]}`))
	}), &staticTokens{token: "tok"}, UploaderConfig{MaxAttempts: 15})

	outcome := u.Publish(context.Background(), samplePublishRequest())
	require.Equal(t, pipeline.OutcomeModerated, outcome.Kind)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, int32(1), requests.Load())
	assert.Empty(t, sleeper.waits)
}

func TestPublishNonModerated403Retries(t *testing.T) {
	var requests atomic.Int32
	u, _ := newTestUploader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":[{"message":"Token Validation Failed"}]}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}), &staticTokens{token: "tok"}, UploaderConfig{})

	outcome := u.Publish(context.Background(), samplePublishRequest())
	require.Equal(t, pipeline.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 2, outcome.Attempts)
}

func TestPublishExhaustsAttemptBudget(t *testing.T) {
	var requests atomic.Int32
	u, sleeper := newTestUploader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), &staticTokens{token: "tok"}, UploaderConfig{MaxAttempts: 4})

	outcome := u.Publish(context.Background(), samplePublishRequest())
	require.Equal(t, pipeline.OutcomeFatal, outcome.Kind)
	assert.Equal(t, 4, outcome.Attempts)
	assert.Equal(t, int32(4), requests.Load())
	// No sleep after the final attempt.
	assert.Len(t, sleeper.waits, 3)
	assert.Error(t, outcome.Err)
}

func TestPublishTokenFailureIsFatalWithoutSubmitting(t *testing.T) {
	var requests atomic.Int32
	u, _ := newTestUploader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
	}), &staticTokens{err: errors.New("no token")}, UploaderConfig{})

	outcome := u.Publish(context.Background(), samplePublishRequest())
	require.Equal(t, pipeline.OutcomeFatal, outcome.Kind)
	assert.Equal(t, int32(0), requests.Load())
}

func TestPublishCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	u, _ := newTestUploader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), &staticTokens{token: "tok"}, UploaderConfig{})
	u.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	outcome := u.Publish(ctx, samplePublishRequest())
	require.Equal(t, pipeline.OutcomeFatal, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
}

func TestIsModerated(t *testing.T) {
	assert.True(t, isModerated([]byte(`{"errors":[{"message":"user is moderated"}]}`)))
	assert.True(t, isModerated([]byte(`{"errors":[{"message":"The User Is Moderated until further notice"}]}`)))
	assert.False(t, isModerated([]byte(`{"errors":[{"message":"quota exceeded"}]}`)))
	assert.False(t, isModerated([]byte(`not json`)))
	assert.False(t, isModerated(nil))
}
