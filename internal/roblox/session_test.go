package roblox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"decalpress/internal/pipeline"
)

func newTestSession(t *testing.T, handler http.Handler) (*Session, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := NewSession(srv.Client(), Endpoints{
		UsersBaseURL: srv.URL,
		AuthBaseURL:  srv.URL,
		UploadURL:    srv.URL + "/assets",
	}, zap.NewNop())
	return s, srv
}

func TestValidateCookie(t *testing.T) {
	t.Run("ValidCookie", func(t *testing.T) {
		s, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, identityPath, r.URL.Path)
			assert.Contains(t, r.Header.Get("Cookie"), cookieName+"=secret")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id": 12345, "name": "builderman"}`)
		}))

		identity, err := s.ValidateCookie(context.Background(), "secret")
		require.NoError(t, err)
		assert.Equal(t, int64(12345), identity.ID)
		assert.Equal(t, "builderman", identity.Name)
	})

	t.Run("RejectedCookie", func(t *testing.T) {
		s, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := s.ValidateCookie(context.Background(), "expired")
		assert.ErrorIs(t, err, pipeline.ErrInvalidCredential)
	})

	t.Run("ServerError", func(t *testing.T) {
		s, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))

		_, err := s.ValidateCookie(context.Background(), "secret")
		assert.ErrorIs(t, err, pipeline.ErrInvalidCredential)
	})
}

func TestFetchWriteToken(t *testing.T) {
	t.Run("HarvestedFromRejection", func(t *testing.T) {
		s, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, logoutPath, r.URL.Path)
			w.Header().Set(csrfHeader, "tok-abc")
			w.WriteHeader(http.StatusForbidden)
		}))

		token, err := s.FetchWriteToken(context.Background(), "secret")
		require.NoError(t, err)
		assert.Equal(t, "tok-abc", token)
	})

	t.Run("UnexpectedSuccessStillChecksHeader", func(t *testing.T) {
		s, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set(csrfHeader, "tok-on-success")
			w.WriteHeader(http.StatusOK)
		}))

		token, err := s.FetchWriteToken(context.Background(), "secret")
		require.NoError(t, err)
		assert.Equal(t, "tok-on-success", token)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		s, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))

		_, err := s.FetchWriteToken(context.Background(), "secret")
		assert.ErrorIs(t, err, pipeline.ErrTokenUnavailable)
	})

	t.Run("MissingHeaderOnSuccess", func(t *testing.T) {
		s, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		_, err := s.FetchWriteToken(context.Background(), "secret")
		assert.ErrorIs(t, err, pipeline.ErrTokenUnavailable)
	})
}
