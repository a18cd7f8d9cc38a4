package fetcher

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("http://host/path"))
	assert.True(t, IsURL("https://host/path"))
	assert.False(t, IsURL("/local/path"))
	assert.False(t, IsURL("relative/path"))
}

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := New()
	body, err := f.Get(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestGet_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New()
	_, err := f.Get(srv.URL)
	assert.Error(t, err)
}
