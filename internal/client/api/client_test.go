package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/declaro/internal/client/events"
	"github.com/dmitrijs2005/declaro/internal/common"
)

type memTokens struct {
	mu      sync.Mutex
	token   string
	cleared int
}

func (m *memTokens) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memTokens) ClearToken(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.cleared++
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func newTestClient(t *testing.T, r http.Handler, opts ...Option) (*Client, *memTokens, *recordingBus) {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	tokens := &memTokens{token: "tok-1"}
	bus := &recordingBus{}
	return NewClient(srv.URL+"/", tokens, bus, opts...), tokens, bus
}

func TestClient_JSONRoundTripWithBearer(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/echo/", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, "key-1", req.Header.Get("Idempotency-Key"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["say"]})
	})
	c, _, _ := newTestClient(t, r)

	var out map[string]string
	err := c.Post(context.Background(), "/api/echo/", map[string]string{"say": "bonjour"}, &out, WithIdempotencyKey("key-1"))
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out["echo"])
}

func TestClient_NoTokenNoAuthorizationHeader(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/health/", func(w http.ResponseWriter, req *http.Request) {
		assert.Empty(t, req.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	c, tokens, _ := newTestClient(t, r)
	tokens.token = ""

	require.NoError(t, c.Get(context.Background(), "/api/health/", nil))
}

func TestClient_UnauthorizedClearsTokenAndPublishesLogout(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/auth/me/", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Token expiré"}`)
	})
	c, tokens, bus := newTestClient(t, r)

	err := c.Get(context.Background(), "/api/auth/me/", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrorUnauthorized))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.Empty(t, tokens.token)
	assert.Equal(t, 1, tokens.cleared)
	require.Len(t, bus.events, 1)
	assert.Equal(t, events.TopicAuthLogout, bus.events[0].Topic)
}

func TestClient_ErrorPayloadAndMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
		payload any
	}{
		{"detail string", `{"detail":"Déclaration introuvable"}`, http.StatusNotFound, "Déclaration introuvable",
			map[string]any{"detail": "Déclaration introuvable"}},
		{"nested detail", `{"detail":{"message":"Code requis"}}`, http.StatusBadRequest, "Code requis",
			map[string]any{"detail": map[string]any{"message": "Code requis"}}},
		{"plain text", `boom`, http.StatusInternalServerError, "HTTP 500", "boom"},
		{"empty body", ``, http.StatusConflict, "HTTP 409", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Get("/x", func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			c, tokens, bus := newTestClient(t, r)

			err := c.Get(context.Background(), "/x", nil)
			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.payload, apiErr.Payload)
			assert.False(t, IsTransient(err))
			assert.Equal(t, "tok-1", tokens.token)
			assert.Empty(t, bus.events)
		})
	}
}

func TestClient_GatewayErrorsAreUnavailable(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/x", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c, _, _ := newTestClient(t, r)

	err := c.Get(context.Background(), "/x", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTransient(err))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	r := chi.NewRouter()
	r.Get("/slow", func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-release:
		case <-req.Context().Done():
		}
	})
	c, _, _ := newTestClient(t, r, WithTimeout(50*time.Millisecond))
	defer close(release)

	err := c.Get(context.Background(), "/slow", nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTransient(err))
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(base, nil, nil)
	err := c.Get(context.Background(), "/api/health/", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_CancelledContext(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/x", func(w http.ResponseWriter, req *http.Request) {})
	c, _, _ := newTestClient(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Get(ctx, "/x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_InvalidJSON(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/x", func(w http.ResponseWriter, req *http.Request) {
		_, _ = io.WriteString(w, `{"broken"`)
	})
	c, _, _ := newTestClient(t, r)

	var out map[string]any
	err := c.Get(context.Background(), "/x", &out)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestClient_MultipartUsesWriterBoundary(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/upload", func(w http.ResponseWriter, req *http.Request) {
		ct := req.Header.Get("Content-Type")
		assert.True(t, strings.HasPrefix(ct, "multipart/form-data; boundary="), ct)
		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Equal(t, "photo.png", req.FormValue("name"))
		f, hdr, err := req.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "photo.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		assert.Equal(t, []byte("pngdata"), data)
		w.WriteHeader(http.StatusCreated)
	})
	c, _, _ := newTestClient(t, r)

	body := &Multipart{
		Fields: map[string]string{"name": "photo.png"},
		Files:  []FilePart{{Field: "file", Filename: "photo.png", ContentType: "image/png", Data: []byte("pngdata")}},
	}
	require.NoError(t, c.Post(context.Background(), "/upload", body, nil))
}
