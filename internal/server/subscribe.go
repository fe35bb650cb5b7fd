package server

import (
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/reqid"
	"github.com/hanpama/graphcache/internal/store"
)

const subscribeRoute = "GET /subscribe"

// subscribe streams the data of one operation over a websocket. The client
// sends a single query request; the server answers with the current read
// and then with every read that changes after a write to the store.
func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx, rid := reqid.NewContext(r.Context())
	status := http.StatusSwitchingProtocols
	start := time.Now()
	eventbus.Publish(ctx, h.bus, events.HTTPStart{Route: subscribeRoute, Request: r})
	defer func() {
		eventbus.Publish(ctx, h.bus, events.HTTPFinish{Route: subscribeRoute, Request: r, Status: status, Duration: time.Since(start)})
	}()

	ws, err := h.upgrader.Upgrade(w, r, http.Header{"X-Request-Id": {rid.String()}})
	if err != nil {
		// Upgrade has replied to the client.
		status = http.StatusBadRequest
		return
	}
	defer ws.Close()

	if h.opt.Timeout > 0 {
		ws.SetReadDeadline(time.Now().Add(h.opt.Timeout))
	}
	var req queryRequest
	if err := ws.ReadJSON(&req); err != nil {
		ws.WriteJSON(errorResponse(&language.Error{Message: "invalid JSON"}))
		return
	}
	ws.SetReadDeadline(time.Time{})
	op, lerr := h.buildOperation(req)
	if lerr != nil {
		ws.WriteJSON(errorResponse(lerr))
		return
	}

	// updates holds the latest unsent read. Callbacks run with h.mu held,
	// so there is a single sender.
	updates := make(chan *reader.Snapshot, 1)
	h.mu.Lock()
	snap := h.store.Lookup(op.Root)
	sub := h.store.Subscribe(snap, func(next *reader.Snapshot) {
		select {
		case updates <- next:
		default:
			select {
			case <-updates:
			default:
			}
			updates <- next
		}
	})
	h.mu.Unlock()
	defer h.WithStore(func(*store.Store) { sub.Dispose() })

	if err := ws.WriteJSON(h.readResponse(snap)); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case next := <-updates:
			if err := ws.WriteJSON(h.readResponse(next)); err != nil {
				glog.V(1).Infof("subscription %s: %v", rid, err)
				return
			}
		}
	}
}
