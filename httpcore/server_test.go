package httpcore

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(handler http.HandlerFunc) (*Server, net.Conn) {
	client, server := net.Pipe()
	s := NewServer(&Config{}, handler)
	go s.HandleConn(context.Background(), server)
	return s, client
}

func TestHandleConnSimpleRequest(t *testing.T) {
	_, client := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hello", r.URL.Path)
		w.Header().Set("X-Test", "1")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	})
	defer client.Close()

	_, err := client.Write([]byte("GET /hello HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-Test"))
	buf := make([]byte, 2)
	_, err = resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf))
}

func TestHandleConnKeepAliveTwoRequests(t *testing.T) {
	count := 0
	_, client := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		count++
		w.Write([]byte("x"))
	})
	defer client.Close()

	br := bufio.NewReader(client)
	for i := 0; i < 2; i++ {
		_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n"))
		require.NoError(t, err)
		resp, err := http.ReadResponse(br, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, 2, count)
}

func TestHandleConnUpgradeRejected(t *testing.T) {
	_, client := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for an upgrade request")
	})
	defer client.Close()
	client.SetDeadline(time.Now().Add(2 * time.Second))

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: h\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = client.Read(buf)
	assert.Error(t, err) // connection closed, no response written
}

func TestHandleConnUpgradeDispatched(t *testing.T) {
	client, server := net.Pipe()
	s := NewServer(&Config{}, http.NotFoundHandler())
	upgraded := make(chan struct{})
	s.Upgrades = map[string]UpgradeHandler{
		"widget": func(ctx context.Context, conn net.Conn, req *http.Request) {
			close(upgraded)
		},
	}
	go s.HandleConn(context.Background(), server)
	defer client.Close()

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: h\r\nUpgrade: widget\r\nConnection: Upgrade\r\n\r\n"))
	require.NoError(t, err)

	select {
	case <-upgraded:
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade handler never ran")
	}
}
