package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   []byte
	Form   map[string]string
}

type fakeOpenAI struct {
	mu       sync.Mutex
	requests []recordedRequest
	runCalls int
}

func (f *fakeOpenAI) record(r *http.Request) recordedRequest {
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		_ = r.ParseMultipartForm(1 << 20)
		rec.Form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			rec.Form[k] = v[0]
		}
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			rec.Form["filename"] = files[0].Filename
		}
	} else {
		rec.Body, _ = io.ReadAll(r.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	return rec
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/threads":
		_, _ = io.WriteString(w, `{"id":"thread_1","object":"thread","created_at":1,"metadata":{}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/threads/thread_1/messages":
		_, _ = io.WriteString(w, `{"id":"msg_user","object":"thread.message","role":"user","created_at":1,"content":[]}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/threads/thread_1/runs":
		_, _ = io.WriteString(w, `{"id":"run_1","object":"thread.run","thread_id":"thread_1","status":"queued"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/threads/thread_1/runs/run_1":
		f.mu.Lock()
		f.runCalls++
		n := f.runCalls
		f.mu.Unlock()
		if n == 1 {
			_, _ = io.WriteString(w, `{"id":"run_1","thread_id":"thread_1","status":"in_progress"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"run_1","thread_id":"thread_1","status":"failed","last_error":{"code":"rate_limit_exceeded","message":"slow down"}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/threads/thread_1/runs/run_1/cancel":
		_, _ = io.WriteString(w, `{"id":"run_1","thread_id":"thread_1","status":"cancelling"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/threads/thread_1/messages":
		_, _ = io.WriteString(w, `{"object":"list","has_more":false,"data":[
			{"id":"m3","role":"user","created_at":25,"content":[{"type":"text","text":{"value":"pregunta","annotations":[]}}]},
			{"id":"m2","role":"assistant","created_at":20,"content":[{"type":"text","text":{"value":"second","annotations":[]}}]},
			{"id":"m1","role":"assistant","created_at":20,"content":[{"type":"image_file","image_file":{"file_id":"f1"}},{"type":"text","text":{"value":"first","annotations":[]}}]},
			{"id":"m0","role":"assistant","created_at":10,"content":[{"type":"text","text":{"value":"old","annotations":[]}}]}
		]}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/audio/transcriptions":
		_, _ = io.WriteString(w, `{"text":" hola "}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/audio/speech":
		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write([]byte("OggS-fake"))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/chat/completions":
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Un gato."}}]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"not found"}}`)
	}
}

func (f *fakeOpenAI) find(method, path string) (recordedRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			return r, true
		}
	}
	return recordedRequest{}, false
}

func newFakeClient(t *testing.T) (*OpenAIClient, *fakeOpenAI) {
	t.Helper()
	fake := &fakeOpenAI{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := NewOpenAIClient(newTestLogger(), Options{
		APIKey:       "sk-test",
		BaseURL:      srv.URL + "/v1/",
		AssistantID:  "asst_1",
		Instructions: "responde en español",
		Language:     "es",
		HTTPClient:   srv.Client(),
	})
	return client, fake
}

func TestOpenAIClientSubmitImageWithoutCaption(t *testing.T) {
	t.Parallel()

	client, fake := newFakeClient(t)
	ctx := context.Background()

	threadID, err := client.CreateConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread_1", threadID)

	run, err := client.Submit(ctx, threadID, ImageContent("https://store/abc.jpg?sig=1", ""))
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)
	assert.Equal(t, "thread_1", run.ConversationID)
	assert.Equal(t, RunStatusQueued, run.Status)

	msgReq, ok := fake.find(http.MethodPost, "/v1/threads/thread_1/messages")
	require.True(t, ok)
	var body struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL string `json:"url"`
			} `json:"image_url"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(msgReq.Body, &body))
	assert.Equal(t, "user", body.Role)
	require.Len(t, body.Content, 1, "no text part is sent without a caption")
	assert.Equal(t, "image_url", body.Content[0].Type)
	assert.Equal(t, "https://store/abc.jpg?sig=1", body.Content[0].ImageURL.URL)

	runReq, ok := fake.find(http.MethodPost, "/v1/threads/thread_1/runs")
	require.True(t, ok)
	var runBody map[string]any
	require.NoError(t, json.Unmarshal(runReq.Body, &runBody))
	assert.Equal(t, "asst_1", runBody["assistant_id"])
	assert.Equal(t, "responde en español", runBody["instructions"])
}

func TestOpenAIClientSubmitTextAsString(t *testing.T) {
	t.Parallel()

	client, fake := newFakeClient(t)
	_, err := client.Submit(context.Background(), "thread_1", TextContent("hola"))
	require.NoError(t, err)

	msgReq, ok := fake.find(http.MethodPost, "/v1/threads/thread_1/messages")
	require.True(t, ok)
	var body map[string]any
	require.NoError(t, json.Unmarshal(msgReq.Body, &body))
	assert.Equal(t, "hola", body["content"])
}

func TestOpenAIClientSubmitEmptyContent(t *testing.T) {
	t.Parallel()

	client, fake := newFakeClient(t)
	_, err := client.Submit(context.Background(), "thread_1", Content{})
	require.ErrorIs(t, err, ErrEmptyContent)
	_, sent := fake.find(http.MethodPost, "/v1/threads/thread_1/messages")
	assert.False(t, sent)
}

func TestOpenAIClientPollingFailedRun(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t)
	p, _ := newInstantPoller(0)

	_, err := p.AwaitCompletion(context.Background(), client, Run{ID: "run_1", ConversationID: "thread_1"})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, RunStatusFailed, runErr.Status)
	assert.Equal(t, "rate_limit_exceeded", runErr.Code)
	assert.Equal(t, "slow down", runErr.Message)
}

func TestOpenAIClientListMessagesChronological(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t)
	msgs, err := client.ListMessages(context.Background(), "thread_1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "m0", msgs[0].ID)
	assert.Equal(t, "m3", msgs[3].ID)
	assert.Equal(t, []string{"first"}, msgs[2].Segments, "non-text blocks are skipped")

	segments, ok := LatestReply(msgs)
	require.True(t, ok)
	assert.Equal(t, []string{"first", "second"}, segments)
}

func TestOpenAIClientTranscribe(t *testing.T) {
	t.Parallel()

	client, fake := newFakeClient(t)
	path := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS"), 0o600))

	text, err := client.Transcribe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hola", text)

	req, ok := fake.find(http.MethodPost, "/v1/audio/transcriptions")
	require.True(t, ok)
	assert.Equal(t, "whisper-1", req.Form["model"])
	assert.Equal(t, "es", req.Form["language"])
	assert.Equal(t, "voice.ogg", req.Form["filename"])
}

func TestOpenAIClientTranscribeMissingFile(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t)
	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.ogg"))
	require.Error(t, err)
}

func TestOpenAIClientSpeak(t *testing.T) {
	t.Parallel()

	client, fake := newFakeClient(t)
	rc, err := client.Speak(context.Background(), "respuesta")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "OggS-fake", string(data))

	req, ok := fake.find(http.MethodPost, "/v1/audio/speech")
	require.True(t, ok)
	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "opus", body["response_format"])
	assert.Equal(t, "tts-1", body["model"])
	assert.Equal(t, "alloy", body["voice"])
}

func TestOpenAIClientDescribeImage(t *testing.T) {
	t.Parallel()

	client, fake := newFakeClient(t)
	answer, err := client.DescribeImage(context.Background(), "https://example.com/cat.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, "Un gato.", answer)

	req, ok := fake.find(http.MethodPost, "/v1/chat/completions")
	require.True(t, ok)
	assert.Contains(t, string(req.Body), "https://example.com/cat.jpg")
	assert.Contains(t, string(req.Body), "Describe esta imagen.")
}

func TestOpenAIClientProviderErrorIsWrapped(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t)
	_, err := client.RunStatus(context.Background(), "thread_1", "unknown_run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieve run")
}
