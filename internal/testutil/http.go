package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// InProcessHost is the placeholder host used for requests that never leave
// the process.
const InProcessHost = "http://in-process"

type RoundTripHandler struct {
	Handler http.Handler
}

func (rt *RoundTripHandler) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	rt.Handler.ServeHTTP(rec, req)
	res := rec.Result()
	res.Request = req
	return res, nil
}

// NewInProcessClient routes requests straight into handler. Streaming
// endpoints need StreamRecorder instead, since the recorder buffers.
func NewInProcessClient(handler http.Handler) *http.Client {
	return &http.Client{Transport: &RoundTripHandler{Handler: handler}}
}

// StreamRecorder is a ResponseWriter whose body can be read while the handler
// is still writing, for SSE endpoints.
type StreamRecorder struct {
	HeaderMap http.Header
	Code      int
	Body      io.ReadCloser
	writer    io.WriteCloser
}

func NewStreamRecorder() *StreamRecorder {
	r, w := io.Pipe()
	return &StreamRecorder{
		HeaderMap: make(http.Header),
		Code:      http.StatusOK,
		Body:      r,
		writer:    w,
	}
}

func (sr *StreamRecorder) Header() http.Header {
	return sr.HeaderMap
}

func (sr *StreamRecorder) WriteHeader(statusCode int) {
	sr.Code = statusCode
}

func (sr *StreamRecorder) Write(p []byte) (int, error) {
	return sr.writer.Write(p)
}

func (sr *StreamRecorder) Flush() {}

func (sr *StreamRecorder) Close() error {
	return sr.writer.Close()
}

func ReadAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func NewRequest(method, path string, body []byte) *http.Request {
	return httptest.NewRequest(method, InProcessHost+path, bytes.NewReader(body))
}

// DoJSON sends payload (if any) as JSON and returns the raw response.
func DoJSON(t *testing.T, client *http.Client, method, path string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, InProcessHost+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// DecodeJSON decodes and closes the response body.
func DecodeJSON(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode response (status %d): %v", resp.StatusCode, err)
	}
}
