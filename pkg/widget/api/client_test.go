package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatwidget/pkg/widget/chat"
)

func TestNewClientValidatesURL(t *testing.T) {
	for _, bad := range []string{"", "ftp://x", "localhost:8000", "http://"} {
		_, err := NewClient(bad)
		require.Error(t, err, bad)
	}
	c, err := NewClient(" http://localhost:8000/ ")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", c.BaseURL())
}

func TestFetchConfigEscapesClientID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"welcome_message":"hey"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	body, err := c.FetchConfig(context.Background(), "a b/c")
	require.NoError(t, err)
	require.JSONEq(t, `{"welcome_message":"hey"}`, string(body))
	require.Equal(t, "/api/config/a%20b%2Fc", gotPath)
}

func TestFetchConfigStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.FetchConfig(context.Background(), "abc123")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusNotFound, se.Status)
	require.Equal(t, "nope", se.Body)
}

func TestSendPostsRequestBody(t *testing.T) {
	var got chat.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		_, _ = w.Write([]byte(`{"response":"hello!"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	reply, err := c.Send(context.Background(), chat.Request{Message: "hi", ClientID: "abc123", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, "hello!", reply)
	require.Equal(t, chat.Request{Message: "hi", ClientID: "abc123", SessionID: "s1"}, got)
}

func TestSendFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"not json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		},
		"missing field": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"reply":"x"}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			c, err := NewClient(srv.URL)
			require.NoError(t, err)
			_, err = c.Send(context.Background(), chat.Request{Message: "hi"})
			require.Error(t, err)
		})
	}
}

func TestSendHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Send(ctx, chat.Request{Message: "hi"})
	require.Error(t, err)
}

func TestPushConfig(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/config/abc123", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.PushConfig(context.Background(), "abc123", []byte(`{"enabled":true}`)))
	require.Equal(t, `{"enabled":true}`, body)
}
