// Package messaging routes protocol frames between experience applications
// and their remote clients over websockets.
package messaging

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/protocol"
)

// heartbeatInterval paces the ahb/chb presence frames both directions.
const heartbeatInterval = 500 * time.Millisecond

// DisplayController is the slice of the controller the router patches when
// apps send display settings or clients interact.
type DisplayController interface {
	SetEndTime(endTime *time.Time)
	SetLock(status experience.LockStatus)
	NotifyInteraction()
	CurrentExperienceID() *string
}

// Router owns the websocket endpoints and the channel registry.
type Router struct {
	controller DisplayController
	registry   *registry
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

func NewRouter(controller DisplayController) *Router {
	return &Router{
		controller: controller,
		registry:   newRegistry(),
		upgrader: websocket.Upgrader{
			// Clients connect from arbitrary origins (phones on the venue
			// network); auth happens at the app's acceptance gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.WithComponent("messaging"),
	}
}

// Mount registers the websocket endpoints on the daemon's router. Clients
// dial in, the experience application dials out.
func (r *Router) Mount(mux chi.Router) {
	mux.Get("/messaging/in/{id}", r.handleClient)
	mux.Get("/messaging/out/{id}", r.handleApp)
}

// Run paces the presence heartbeats until the context ends.
func (r *Router) Run(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.heartbeat()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Router) heartbeat() {
	for _, snap := range r.registry.snapshot() {
		appUp := snap.app != nil && !snap.app.isClosed()
		if appUp {
			// The roster is every connected client, accepted or not; an up
			// heartbeat is authoritative and a missing id means dropped.
			roster := make([]string, 0, len(snap.clients))
			for _, client := range snap.clients {
				roster = append(roster, client.id)
			}
			sort.Strings(roster)
			if !snap.app.send(&protocol.ClientHeartbeat{Up: true, Clients: roster}) {
				appUp = false
			}
		}
		for _, client := range snap.clients {
			client.send(&protocol.AppHeartbeat{Up: appUp})
		}
	}
}

// handleApp serves an experience application's channel end.
func (r *Router) handleApp(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	app := &appConn{conn: newConn(ws), experienceID: id}
	if previous := r.registry.setApp(id, app); previous != nil {
		previous.close()
	}
	messagingConnections.WithLabelValues("app").Inc()
	logger := r.logger.With().Str("experience", id).Logger()
	logger.Debug().Str("event", "messaging.app_connected").Msg("app connected")

	g, ctx := errgroup.WithContext(req.Context())
	g.Go(func() error { return app.sendPump(ctx) })
	g.Go(func() error { return r.appReceivePump(ctx, app, logger) })
	_ = g.Wait()

	app.close()
	r.registry.removeApp(id, app)
	messagingConnections.WithLabelValues("app").Dec()
	logger.Debug().Str("event", "messaging.app_disconnected").Msg("app disconnected")
}

func (r *Router) appReceivePump(ctx context.Context, app *appConn, logger zerolog.Logger) error {
	for {
		_, data, err := app.ws.ReadMessage()
		if err != nil {
			return err
		}
		m, err := protocol.Unmarshal(data)
		if err != nil {
			logger.Warn().Err(err).Str("event", "messaging.bad_frame").Msg("dropping malformed app frame")
			messagingDroppedFrames.WithLabelValues("malformed").Inc()
			continue
		}
		r.routeFromApp(app, m, logger)
	}
}

func (r *Router) routeFromApp(app *appConn, m protocol.Message, logger zerolog.Logger) {
	switch msg := m.(type) {
	case *protocol.Access:
		client := r.lookupClient(app, msg.Client)
		if client == nil {
			return
		}
		accepted := msg.Accepted
		protocol.StripClient(msg)
		client.send(msg)
		if accepted {
			client.setAccepted()
		} else {
			client.close()
		}

	case *protocol.AppApplication:
		client := r.lookupClient(app, msg.Client)
		if client == nil {
			return
		}
		protocol.StripClient(msg)
		client.send(msg)

	case *protocol.DisplaySettings:
		r.applyDisplaySettings(msg.Settings, logger)

	case *protocol.Lifecycle:
		// Lifecycle frames terminate at the router; clients learn nothing.
		logger.Info().
			Str("event", "messaging.lifecycle").
			Bool("paused", msg.Paused).
			Msg("app lifecycle change")

	default:
		messagingDroppedFrames.WithLabelValues("unroutable").Inc()
		logger.Warn().
			Str("event", "messaging.unroutable").
			Str("type", string(m.MessageType())).
			Msg("dropping app frame with no client-bound route")
	}
}

// lookupClient resolves an app frame's target. A missing client elicits one
// down heartbeat so the app can clean up its per-client state.
func (r *Router) lookupClient(app *appConn, clientID string) *clientConn {
	if clientID == "" {
		messagingDroppedFrames.WithLabelValues("unaddressed").Inc()
		return nil
	}
	client := r.registry.client(app.experienceID, clientID)
	if client == nil {
		messagingDroppedFrames.WithLabelValues("missing_client").Inc()
		app.send(&protocol.ClientHeartbeat{Up: false, Clients: []string{clientID}})
		return nil
	}
	return client
}

func (r *Router) applyDisplaySettings(settings protocol.DisplaySettingsBody, logger zerolog.Logger) {
	if settings.EndTime != nil {
		if *settings.EndTime == 0 {
			r.controller.SetEndTime(nil)
		} else {
			t := time.UnixMilli(*settings.EndTime)
			r.controller.SetEndTime(&t)
		}
	}
	if settings.Lock != nil {
		r.controller.SetLock(*settings.Lock)
	}
	logger.Debug().Str("event", "messaging.display_settings").Msg("applied display settings")
}

// handleClient serves a remote client's channel end.
func (r *Router) handleClient(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	client := &clientConn{conn: newConn(ws), id: uuid.NewString()}
	r.registry.addClient(id, client)
	messagingConnections.WithLabelValues("client").Inc()
	logger := r.logger.With().Str("experience", id).Str("client", client.id).Logger()
	logger.Debug().Str("event", "messaging.client_connected").Msg("client connected")

	g, ctx := errgroup.WithContext(req.Context())
	g.Go(func() error { return client.sendPump(ctx) })
	g.Go(func() error { return r.clientReceivePump(ctx, id, client, logger) })
	_ = g.Wait()

	client.close()
	r.registry.removeClient(id, client)
	messagingConnections.WithLabelValues("client").Dec()
	if app := r.registry.app(id); app != nil {
		app.send(&protocol.ClientHeartbeat{Up: false, Clients: []string{client.id}})
	}
	logger.Debug().Str("event", "messaging.client_disconnected").Msg("client disconnected")
}

func (r *Router) clientReceivePump(ctx context.Context, experienceID string, client *clientConn, logger zerolog.Logger) error {
	for {
		_, data, err := client.ws.ReadMessage()
		if err != nil {
			return err
		}
		m, err := protocol.Unmarshal(data)
		if err != nil {
			logger.Warn().Err(err).Str("event", "messaging.bad_frame").Msg("dropping malformed client frame")
			messagingDroppedFrames.WithLabelValues("malformed").Inc()
			continue
		}

		switch msg := m.(type) {
		case *protocol.Connect:
			msg.Client = client.id
			if app := r.registry.app(experienceID); app != nil {
				app.send(msg)
			}

		case *protocol.ClientApplication:
			if !client.isAccepted() {
				// Unauthorized frames are dropped; the socket stays up so the
				// client can still request a connection.
				messagingDroppedFrames.WithLabelValues("unauthorized").Inc()
				logger.Warn().Str("event", "messaging.unauthorized").Msg("dropping frame from unaccepted client")
				continue
			}
			msg.Client = client.id
			if app := r.registry.app(experienceID); app != nil {
				app.send(msg)
			}
			r.controller.NotifyInteraction()

		default:
			messagingDroppedFrames.WithLabelValues("unroutable").Inc()
			logger.Warn().
				Str("event", "messaging.unroutable").
				Str("type", string(m.MessageType())).
				Msg("dropping unexpected client frame")
		}
	}
}
