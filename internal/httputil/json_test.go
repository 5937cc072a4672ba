package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	cases := []struct {
		name string
		url  string
		code int
		v    interface{}
		want string
	}{
		{"value", "/", http.StatusOK, map[string]int{"a": 1}, "{\"a\":1}\n"},
		{"pretty", "/?pretty=true", http.StatusOK, map[string]int{"a": 1}, "{\n  \"a\": 1\n}\n"},
		{"error", "/", http.StatusNotFound, errors.New("gone"), "{\"error\":\"gone\"}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, httptest.NewRequest(http.MethodGet, tc.url, nil), tc.code, tc.v)
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tc.want, w.Body.String())
		})
	}
}

func TestBoolFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?a=on&b=0&c=maybe", nil)

	v, err := BoolFromQuery(r, "a", false)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = BoolFromQuery(r, "b", true)
	require.NoError(t, err)
	assert.False(t, v)

	v, err = BoolFromQuery(r, "missing", true)
	require.NoError(t, err)
	assert.True(t, v)

	_, err = BoolFromQuery(r, "c", false)
	assert.Error(t, err)
}
