// Package metrics provides request metrics for the node HTTP API.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records request metrics.
type Recorder interface {
	Record(resTime time.Duration, code int)
}

type dummy struct{}

// NewDummy constructs a new dummy metrics recorder.
func NewDummy() Recorder {
	return &dummy{}
}

func (m *dummy) Record(time.Duration, int) {}

type prom struct {
	reqCount *prometheus.CounterVec
	resTime  prometheus.Summary
}

// NewPrometheus constructs a new Prometheus metrics recorder registered
// with reg.
func NewPrometheus(reg prometheus.Registerer, service string) Recorder {
	f := promauto.With(reg)
	return &prom{
		reqCount: f.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_requests_total",
			Help: "The total number of processed requests by status code",
		}, []string{"code"}),
		resTime: f.NewSummary(prometheus.SummaryOpts{
			Name: service + "_response_time",
			Help: "Response times",
		}),
	}
}

func (m *prom) Record(resTime time.Duration, code int) {
	m.reqCount.WithLabelValues(strconv.Itoa(code)).Inc()
	m.resTime.Observe(resTime.Seconds())
}

// Handler provides metrics middleware.
func Handler(m Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if m == nil {
				next.ServeHTTP(w, req)
				return
			}

			wrapW := &wrapResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			startTime := time.Now()
			next.ServeHTTP(wrapW, req)
			m.Record(time.Since(startTime), wrapW.statusCode)
		})
	}
}

type wrapResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *wrapResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets websocket handlers take over the connection.
func (w *wrapResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
