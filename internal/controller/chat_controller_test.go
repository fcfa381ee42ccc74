package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"csv-analyst-be/internal/metrics"
	"csv-analyst-be/internal/pkg/logger"
	"csv-analyst-be/internal/pkg/serverutils"
	"csv-analyst-be/internal/repository/memory"
	"csv-analyst-be/internal/service"
	"csv-analyst-be/pkg/ai/pipeline"
	"csv-analyst-be/pkg/dataset"
	"csv-analyst-be/pkg/llm/llmtest"
	"csv-analyst-be/pkg/store"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestApp(t *testing.T, provider *llmtest.FakeProvider) *fiber.App {
	t.Helper()

	repo := memory.NewSessionRepository(time.Hour, time.Hour)
	svc := service.NewChatService(
		repo,
		provider,
		dataset.NewLoader(t.TempDir()),
		nil,
		metrics.NewMetrics(repo.Count),
		logger.NewNopLogger(),
		service.ChatServiceConfig{
			Persona:        "Analyst.\n{data}",
			Decoding:       pipeline.DefaultDecoding(),
			MaxUploadBytes: 1024,
		},
	)

	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware(service.ErrorMappings()...))
	NewHealthController(repo.Count).RegisterRoutes(app)
	NewChatController(svc, nil, logger.NewNopLogger(), 1024).RegisterRoutes(app.Group("/api"))
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var env envelope
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(body, &env))
	}
	return resp, env
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, path, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func createSession(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp, env := do(t, app, jsonRequest(http.MethodPost, "/api/session/v1", nil))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var sess struct {
		Id    string `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	require.Equal(t, store.StateNoCredential, sess.State)
	return sess.Id
}

func readySession(t *testing.T, app *fiber.App) string {
	t.Helper()
	id := createSession(t, app)

	resp, _ := do(t, app, jsonRequest(http.MethodPut, "/api/session/v1/"+id+"/credential", map[string]string{"api_key": "sk-test"}))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = do(t, app, uploadRequest(t, "/api/session/v1/"+id+"/dataset", "scores.csv", "name,score\nana,10\nbruno,7\n"))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	return id
}

func TestChatControllerFlow(t *testing.T) {
	app := newTestApp(t, &llmtest.FakeProvider{Chunks: []string{"Mean ", "is 8.5"}})
	id := readySession(t, app)

	resp, env := do(t, app, jsonRequest(http.MethodPost, "/api/session/v1/"+id+"/chat", map[string]string{"chat": "mean score?"}))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	var reply struct {
		Reply struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	assert.Equal(t, "ai", reply.Reply.Role)
	assert.Equal(t, "Mean is 8.5", reply.Reply.Text)

	resp, env = do(t, app, httptest.NewRequest(http.MethodGet, "/api/session/v1/"+id+"/history", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var hist struct {
		Turns []map[string]string `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hist))
	require.Len(t, hist.Turns, 2)
	assert.Equal(t, "mean score?", hist.Turns[0]["text"])

	resp, _ = do(t, app, httptest.NewRequest(http.MethodDelete, "/api/session/v1/"+id+"/history", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, env = do(t, app, httptest.NewRequest(http.MethodGet, "/api/session/v1/"+id, nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var sess struct {
		State string `json:"state"`
		Turns int    `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, store.StateReady, sess.State)
	assert.Equal(t, 0, sess.Turns)

	resp, _ = do(t, app, httptest.NewRequest(http.MethodDelete, "/api/session/v1/"+id, nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/api/session/v1/"+id, nil))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestChatControllerErrors(t *testing.T) {
	tests := []struct {
		name       string
		provider   *llmtest.FakeProvider
		setup      func(t *testing.T, app *fiber.App) string
		request    func(t *testing.T, id string) *http.Request
		wantStatus int
		wantMsg    string
	}{
		{
			name:  "upload without credential",
			setup: createSession,
			request: func(t *testing.T, id string) *http.Request {
				return uploadRequest(t, "/api/session/v1/"+id+"/dataset", "a.csv", "x\n1\n")
			},
			wantStatus: fiber.StatusBadRequest,
			wantMsg:    "provide an API key first",
		},
		{
			name:  "missing api key field",
			setup: createSession,
			request: func(t *testing.T, id string) *http.Request {
				return jsonRequest(http.MethodPut, "/api/session/v1/"+id+"/credential", map[string]string{})
			},
			wantStatus: fiber.StatusBadRequest,
			wantMsg:    "apikey is required",
		},
		{
			name:  "non csv upload",
			setup: readySession,
			request: func(t *testing.T, id string) *http.Request {
				return uploadRequest(t, "/api/session/v1/"+id+"/dataset", "notes.txt", "hello")
			},
			wantStatus: fiber.StatusBadRequest,
			wantMsg:    "file must be a valid CSV",
		},
		{
			name:  "oversized upload",
			setup: readySession,
			request: func(t *testing.T, id string) *http.Request {
				return uploadRequest(t, "/api/session/v1/"+id+"/dataset", "big.csv", "a\n"+strings.Repeat("1\n", 600))
			},
			wantStatus: fiber.StatusBadRequest,
			wantMsg:    "file must be a valid CSV",
		},
		{
			name:  "malformed csv",
			setup: readySession,
			request: func(t *testing.T, id string) *http.Request {
				return uploadRequest(t, "/api/session/v1/"+id+"/dataset", "bad.csv", "a,b\n\"open,1\n")
			},
			wantStatus: fiber.StatusUnprocessableEntity,
			wantMsg:    "could not read the CSV file, please check the file and try again",
		},
		{
			name: "chat before dataset",
			setup: func(t *testing.T, app *fiber.App) string {
				id := createSession(t, app)
				do(t, app, jsonRequest(http.MethodPut, "/api/session/v1/"+id+"/credential", map[string]string{"api_key": "sk"}))
				return id
			},
			request: func(t *testing.T, id string) *http.Request {
				return jsonRequest(http.MethodPost, "/api/session/v1/"+id+"/chat", map[string]string{"chat": "hi"})
			},
			wantStatus: fiber.StatusConflict,
			wantMsg:    "upload a CSV file first",
		},
		{
			name:  "stream before dataset",
			setup: createSession,
			request: func(t *testing.T, id string) *http.Request {
				return jsonRequest(http.MethodPost, "/api/session/v1/"+id+"/chat/stream", map[string]string{"chat": "hi"})
			},
			wantStatus: fiber.StatusBadRequest,
			wantMsg:    "provide an API key first",
		},
		{
			name:     "model failure",
			provider: &llmtest.FakeProvider{Err: errors.New("upstream 500")},
			setup:    readySession,
			request: func(t *testing.T, id string) *http.Request {
				return jsonRequest(http.MethodPost, "/api/session/v1/"+id+"/chat", map[string]string{"chat": "hi"})
			},
			wantStatus: fiber.StatusBadGateway,
			wantMsg:    "the model request failed, please try again",
		},
		{
			name:  "empty chat",
			setup: readySession,
			request: func(t *testing.T, id string) *http.Request {
				return jsonRequest(http.MethodPost, "/api/session/v1/"+id+"/chat", map[string]string{"chat": "   "})
			},
			wantStatus: fiber.StatusBadRequest,
			wantMsg:    "message must not be empty",
		},
		{
			name:  "unknown session",
			setup: func(*testing.T, *fiber.App) string { return "nope" },
			request: func(t *testing.T, id string) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/session/v1/"+id+"/history", nil)
			},
			wantStatus: fiber.StatusNotFound,
			wantMsg:    "session not found",
		},
		{
			name:  "websocket without upgrade",
			setup: createSession,
			request: func(t *testing.T, id string) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/session/v1/"+id+"/ws", nil)
			},
			wantStatus: fiber.StatusUpgradeRequired,
			wantMsg:    "Upgrade Required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := tt.provider
			if provider == nil {
				provider = &llmtest.FakeProvider{Chunks: []string{"ok"}}
			}
			app := newTestApp(t, provider)
			id := tt.setup(t, app)

			resp, env := do(t, app, tt.request(t, id))
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantStatus, env.Code)
			assert.Equal(t, tt.wantMsg, env.Message)
		})
	}
}

func parseSSE(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var events []map[string]interface{}
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var evt map[string]interface{}
				require.NoError(t, json.Unmarshal([]byte(data), &evt))
				events = append(events, evt)
			}
		}
	}
	return events
}

func TestStreamChat(t *testing.T) {
	t.Run("chunks then done", func(t *testing.T) {
		app := newTestApp(t, &llmtest.FakeProvider{Chunks: []string{"a", "b", "c"}})
		id := readySession(t, app)

		resp, err := app.Test(jsonRequest(http.MethodPost, "/api/session/v1/"+id+"/chat/stream", map[string]string{"chat": "q"}), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "event: chunk\n")

		events := parseSSE(t, string(body))
		require.Len(t, events, 4)
		for i, want := range []string{"a", "b", "c"} {
			assert.Equal(t, "chunk", events[i]["type"])
			assert.Equal(t, want, events[i]["content"])
		}
		assert.Equal(t, "done", events[3]["type"])
		reply := events[3]["reply"].(map[string]interface{})["reply"].(map[string]interface{})
		assert.Equal(t, "abc", reply["text"])
	})

	t.Run("failure becomes error event", func(t *testing.T) {
		app := newTestApp(t, &llmtest.FakeProvider{Chunks: []string{"a", "b"}, Err: errors.New("reset"), FailAfter: 1})
		id := readySession(t, app)

		resp, err := app.Test(jsonRequest(http.MethodPost, "/api/session/v1/"+id+"/chat/stream", map[string]string{"chat": "q"}), -1)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		events := parseSSE(t, string(body))
		require.Len(t, events, 2)
		assert.Equal(t, "chunk", events[0]["type"])
		assert.Equal(t, "error", events[1]["type"])
		assert.Equal(t, "the model request failed, please try again", events[1]["message"])

		_, env := do(t, app, httptest.NewRequest(http.MethodGet, "/api/session/v1/"+id+"/history", nil))
		var hist struct {
			Turns []map[string]string `json:"turns"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &hist))
		assert.Empty(t, hist.Turns)
	})
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, &llmtest.FakeProvider{})
	createSession(t, app)

	resp, env := do(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"sessions":1}`, string(env.Data))
}

type memFile struct{ *bytes.Reader }

func (memFile) Close() error { return nil }

func TestReadAtMost(t *testing.T) {
	body := []byte("a,b\n1,2\n")

	tests := []struct {
		name    string
		max     int64
		wantErr bool
	}{
		{name: "within limit", max: int64(len(body))},
		{name: "over limit", max: 4, wantErr: true},
		{name: "zero means no cap", max: 0},
		{name: "negative means no cap", max: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readAtMost(memFile{bytes.NewReader(body)}, tt.max)
			if tt.wantErr {
				assert.ErrorIs(t, err, service.ErrInvalidFileType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, body, got)
		})
	}
}
