package downloader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"decalpress/internal/downloader"
)

func TestFetch(t *testing.T) {
	payload := []byte("\x89PNG fake image bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(payload)
		case "/missing.png":
			w.WriteHeader(http.StatusNotFound)
		case "/slow.png":
			time.Sleep(300 * time.Millisecond)
			_, _ = w.Write(payload)
		case "/big.png":
			big := make([]byte, 4096)
			w.Header().Set("Content-Length", "4096")
			_, _ = w.Write(big)
		case "/big-chunked.png":
			big := make([]byte, 4096)
			_, _ = w.Write(big[:2048])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			_, _ = w.Write(big[2048:])
		}
	}))
	defer srv.Close()

	t.Run("Success", func(t *testing.T) {
		f := downloader.New(downloader.Config{UserAgent: "TestAgent"}, zap.NewNop())
		body, err := f.Fetch(context.Background(), srv.URL+"/ok.png")
		require.NoError(t, err)
		assert.Equal(t, payload, body)
	})

	t.Run("NotFound", func(t *testing.T) {
		f := downloader.New(downloader.Config{}, zap.NewNop())
		_, err := f.Fetch(context.Background(), srv.URL+"/missing.png")
		assert.Error(t, err)
	})

	t.Run("Timeout", func(t *testing.T) {
		f := downloader.New(downloader.Config{Timeout: 50 * time.Millisecond}, zap.NewNop())
		_, err := f.Fetch(context.Background(), srv.URL+"/slow.png")
		assert.Error(t, err)
	})

	t.Run("InvalidURL", func(t *testing.T) {
		f := downloader.New(downloader.Config{}, zap.NewNop())
		_, err := f.Fetch(context.Background(), "not-a-url")
		assert.Error(t, err)
	})

	t.Run("OversizeContentLength", func(t *testing.T) {
		f := downloader.New(downloader.Config{MaxBytes: 1024}, zap.NewNop())
		_, err := f.Fetch(context.Background(), srv.URL+"/big.png")
		require.Error(t, err)
		assert.ErrorIs(t, err, downloader.ErrPayloadTooLarge)
	})

	t.Run("OversizeTruncatedBody", func(t *testing.T) {
		f := downloader.New(downloader.Config{MaxBytes: 1024}, zap.NewNop())
		_, err := f.Fetch(context.Background(), srv.URL+"/big-chunked.png")
		require.Error(t, err)
		assert.ErrorIs(t, err, downloader.ErrPayloadTooLarge)
	})

	t.Run("RepeatedFetchSameURL", func(t *testing.T) {
		f := downloader.New(downloader.Config{}, zap.NewNop())
		for i := 0; i < 2; i++ {
			body, err := f.Fetch(context.Background(), srv.URL+"/ok.png")
			require.NoError(t, err)
			assert.Equal(t, payload, body)
		}
	})
}
