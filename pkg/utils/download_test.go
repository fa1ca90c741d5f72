package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewDownloadClient().SetRetryCount(0)

	data, ct, err := Download(context.Background(), client, srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", ct)

	_, _, err = Download(context.Background(), client, srv.URL+"/missing.png")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.jpg" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewDownloadClient().SetRetryCount(0)
	assert.True(t, Reachable(context.Background(), client, srv.URL+"/ok.jpg"))
	assert.False(t, Reachable(context.Background(), client, srv.URL+"/private.jpg"))
}
