// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"grimm.is/flowplane/internal/ctlplane"
	"grimm.is/flowplane/internal/errors"
	"grimm.is/flowplane/internal/logging"
)

const eventWriteDeadline = 5 * time.Second

// Hub broadcasts flow-table create/delete events to websocket subscribers.
// It implements ctlplane.Notifier; delivery is best effort and a dead
// subscriber is dropped rather than retried.
type Hub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewHub creates an empty event hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.WithComponent("events")
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[string]*subscriber),
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	h.logger.Info("Event subscriber connected", "id", sub.id, "remote", r.RemoteAddr)

	// Drain (and discard) client frames so pings and close frames are
	// processed; the read loop ending means the subscriber is gone.
	go func() {
		defer h.drop(sub.id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		_ = sub.conn.Close()
		h.logger.Info("Event subscriber disconnected", "id", id)
	}
}

// Notify implements ctlplane.Notifier: the event is sent to every
// subscriber; subscribers that fail to accept it are dropped and the first
// failure is reported to the caller for logging.
func (h *Hub) Notify(ev ctlplane.Event) error {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		sub.mu.Lock()
		_ = sub.conn.SetWriteDeadline(time.Now().Add(eventWriteDeadline))
		err := sub.conn.WriteJSON(ev)
		sub.mu.Unlock()
		if err != nil {
			h.drop(sub.id)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, errors.KindUnavailable, "delivery to subscriber %s failed", sub.id)
			}
		}
	}
	return firstErr
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		_ = sub.conn.Close()
	}
}
