package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheus(reg, "api")

	h := Handler(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok")) // nolint: errcheck
	}))

	for _, path := range []string{"/", "/", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	p := rec.(*prom)
	assert.Equal(t, 2.0, testutil.ToFloat64(p.reqCount.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.reqCount.WithLabelValues("404")))
}

func TestHandler_Dummy(t *testing.T) {
	var called bool
	h := Handler(NewDummy())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	NewDummy().Record(time.Second, 200)
}

func TestHandler_Hijack(t *testing.T) {
	var hijackErr error
	h := Handler(NewDummy())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		assert.True(t, ok)
		_, _, hijackErr = hj.Hijack()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, hijackErr, "recorder cannot be hijacked")
}
