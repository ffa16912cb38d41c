package httpcore

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseWriterDefaultStatus(t *testing.T) {
	w := newResponseWriter(1024)
	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.status)
	assert.Equal(t, "hello", w.body.String())
}

func TestResponseWriterExplicitStatus(t *testing.T) {
	w := newResponseWriter(1024)
	w.WriteHeader(http.StatusNotFound)
	w.WriteHeader(http.StatusOK) // second call ignored
	assert.Equal(t, http.StatusNotFound, w.status)
}

func TestResponseWriterBodyBound(t *testing.T) {
	w := newResponseWriter(4)
	_, err := w.Write([]byte("toolong"))
	assert.Error(t, err)
}

func TestResponseWriterKeepAliveDecision(t *testing.T) {
	w := newResponseWriter(1024)
	req, err := http.NewRequest(http.MethodGet, "http://h/", nil)
	require.NoError(t, err)

	resp := w.response(req)
	assert.False(t, resp.Close)

	req.Close = true
	resp = w.response(req)
	assert.True(t, resp.Close)
}
