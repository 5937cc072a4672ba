package node

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skycoin/rudp/internal/httputil"
	httpmetrics "github.com/skycoin/rudp/internal/metrics"
	"github.com/skycoin/rudp/pkg/trafficlog"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler returns the HTTP API of the node. Metrics of gatherer are served
// on /metrics when it is not nil.
func (node *Node) Handler(gatherer prometheus.Gatherer, rec httpmetrics.Recorder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpmetrics.Handler(rec))
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/peers", node.getPeers())
		r.Get("/stats", node.getStats())
		r.Get("/traffic", node.getTrafficIDs())
		r.Get("/traffic/{id}", node.getTraffic())
	})
	r.Get("/events", node.getEvents())
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (node *Node) getPeers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, r, http.StatusOK, node.Peers())
	}
}

func (node *Node) getStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, r, http.StatusOK, node.Stats())
	}
}

func (node *Node) getTrafficIDs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := node.TrafficIDs()
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusInternalServerError, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, ids)
	}
}

func (node *Node) getTraffic() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		entry, err := node.Traffic(id)
		switch err {
		case nil:
			httputil.WriteJSON(w, r, http.StatusOK, entry)
		case trafficlog.ErrNotFound:
			httputil.WriteJSON(w, r, http.StatusNotFound, err)
		default:
			httputil.WriteJSON(w, r, http.StatusInternalServerError, err)
		}
	}
}

// getEvents streams peer events over a websocket as JSON messages.
func (node *Node) getEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			node.logger.WithError(err).Debug("Websocket upgrade failed")
			return
		}
		defer func() {
			if err := ws.Close(); err != nil {
				node.logger.WithError(err).Debug("Failed to close websocket")
			}
		}()

		events, unsubscribe := node.Subscribe()
		defer unsubscribe()

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "node closed")
					_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout)) // nolint: errcheck
					return
				}
				if err := ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := ws.WriteJSON(ev); err != nil {
					node.logger.WithError(err).Debug("Failed to write event")
					return
				}
			case <-gone:
				return
			}
		}
	}
}
