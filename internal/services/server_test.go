package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/escpos"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/receipt"
)

type chanDeliverer chan []byte

func (c chanDeliverer) Print(_ context.Context, data []byte) Delivery {
	c <- data
	return Delivery{Bytes: len(data), Attempts: []Attempt{{Endpoint: model.Endpoint{Host: "fake", Port: 9100}}}}
}

type failingSubmitter struct{}

func (failingSubmitter) Submit(model.Order) (string, error) { return "", ErrDispatcherClosed }

func testRenderer(mode escpos.Mode) *receipt.Renderer {
	return receipt.NewRenderer(receipt.DefaultLayout(), receipt.Options{
		Mode: mode,
		Now:  func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func newTestServer(t *testing.T, opts ServerOptions) (*httptest.Server, chanDeliverer) {
	t.Helper()
	printed := make(chanDeliverer, 4)
	r := testRenderer(escpos.ModeText)
	d := NewDispatcher(r, printed, DispatcherOptions{Workers: 1, QueueSize: 4}, discardLogger())
	t.Cleanup(d.Close)
	srv := httptest.NewServer(NewServer(r, d, opts, discardLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv, printed
}

func decodeStatus(t *testing.T, resp *http.Response) statusResponse {
	t.Helper()
	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestPullEndpoint(t *testing.T) {
	t.Parallel()

	r := testRenderer(escpos.ModeESCPOS)
	srv := httptest.NewServer(NewServer(r, failingSubmitter{}, ServerOptions{}, discardLogger()).Handler())
	defer srv.Close()

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			req, err := http.NewRequest(method, srv.URL+PullPath, strings.NewReader("printer status"))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
			assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.NotEmpty(t, body)
			assert.Equal(t, []byte{escpos.ESC, '@'}, body[:2])
			assert.Contains(t, string(body), "COMMANDE #DEBUG")
			assert.Contains(t, string(body), "TOTAL: 12.00EUR")
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ServerOptions{})
	for _, path := range []string{"/unknown", "/print/extra", "/api/print-order/other.txt"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+PullPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPushEndpoint(t *testing.T) {
	t.Parallel()

	srv, printed := newTestServer(t, ServerOptions{})
	resp, err := http.Post(srv.URL+PushPath, "application/json",
		strings.NewReader(`{"id":"A1","items":[{"name":"X","quantity":2,"price":3.0}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	body := decodeStatus(t, resp)
	assert.Equal(t, "success", body.Status)
	assert.NotEmpty(t, body.Message)
	assert.NotEmpty(t, body.JobID)

	select {
	case data := <-printed:
		assert.Contains(t, string(data), "COMMANDE #A1\n")
		assert.Contains(t, string(data), "Qte: 2 x 3.00EUR = 6.00EUR\n")
		assert.Contains(t, string(data), "TOTAL: 6.00EUR\n")
	case <-time.After(2 * time.Second):
		t.Fatal("order was never printed")
	}
}

func TestPushMalformedBody(t *testing.T) {
	t.Parallel()

	srv, printed := newTestServer(t, ServerOptions{})
	for _, body := range []string{`{"id":`, ``, `[1,2]`} {
		resp, err := http.Post(srv.URL+PushPath, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		status := decodeStatus(t, resp)
		resp.Body.Close()

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, body)
		assert.Equal(t, "error", status.Status)
		assert.NotEmpty(t, status.Message)
	}
	assert.Empty(t, printed)

	// The server keeps serving after bad requests.
	resp, err := http.Post(srv.URL+PushPath, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPushStrict(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ServerOptions{Strict: true})
	resp, err := http.Post(srv.URL+PushPath, "application/json", strings.NewReader(`{"id":"A1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", decodeStatus(t, resp).Status)
}

func TestPushBodyTooLarge(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ServerOptions{MaxBodyBytes: 16})
	resp, err := http.Post(srv.URL+PushPath, "application/json",
		strings.NewReader(`{"id":"A1","items":[{"name":"a very long name"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestPushDispatcherClosed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(NewServer(testRenderer(escpos.ModeText), failingSubmitter{}, ServerOptions{}, discardLogger()).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+PushPath, "application/json", strings.NewReader(`{"id":"A1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPushPreflight(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ServerOptions{})
	req, err := http.NewRequest(http.MethodOptions, srv.URL+PushPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestServerServeShutsDown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	s := NewServer(testRenderer(escpos.ModeText), failingSubmitter{}, ServerOptions{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + addr + PullPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerRunBindFailure(t *testing.T) {
	t.Parallel()

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	var logs strings.Builder
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	s := NewServer(testRenderer(escpos.ModeText), failingSubmitter{}, ServerOptions{}, logger)

	err = s.Run(context.Background(), taken.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen "+taken.Addr().String())
	assert.NotContains(t, logs.String(), "print server started")
}
