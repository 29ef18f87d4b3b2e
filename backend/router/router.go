package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"github.com/Asmit356/anant-signaling/backend/metrics"
	"github.com/Asmit356/anant-signaling/backend/model"
	"github.com/Asmit356/anant-signaling/backend/registry"
	"github.com/Asmit356/anant-signaling/backend/room"
)

const (
	defaultSendTimeout    = time.Second
	defaultCleanupTimeout = 2 * time.Second

	defaultDisplayName = "Guest"
)

var (
	ErrAlreadyConnected = errors.New("connection id already registered")
	ErrNotConnected     = errors.New("connection id is not registered")
)

type session struct {
	wire model.Wire
	name string
	room string
}

type (
	Config struct {
		Logger *zerolog.Logger
		Rooms  *registry.Registry
	}

	// Router dispatches inbound events against room state and forwards the
	// resulting effects to target connections. It is the only writer of a
	// connection's display name and current room.
	Router struct {
		logger   zerolog.Logger
		rooms    *registry.Registry
		mx       *sync.Mutex
		sessions map[string]*session
	}
)

func New(cfg Config) *Router {
	return &Router{
		logger:   cfg.Logger.With().Str("component", "router").Logger(),
		rooms:    cfg.Rooms,
		mx:       &sync.Mutex{},
		sessions: make(map[string]*session),
	}
}

// Connect registers a live connection and starts consuming its inbound
// events. The wire's TX channel is owned exclusively by that connection's
// transport sender.
func (rt *Router) Connect(ctx context.Context, connID string, wire model.Wire) error {
	rt.mx.Lock()
	if _, ok := rt.sessions[connID]; ok {
		rt.mx.Unlock()
		return ErrAlreadyConnected
	}
	rt.sessions[connID] = &session{wire: wire, name: defaultDisplayName}
	rt.mx.Unlock()

	metrics.ConnectionsLive.Inc()
	rt.logger.Debug().Str("connID", connID).Msg("connection registered")

	go rt.readEvents(ctx, connID, wire.RX)
	return nil
}

// Disconnect unregisters a connection and runs the unified leave against
// the room it touched. Cleanup is best-effort: if the room is already gone
// the leave is a no-op.
func (rt *Router) Disconnect(ctx context.Context, connID string) error {
	rt.mx.Lock()
	sess, ok := rt.sessions[connID]
	if ok {
		delete(rt.sessions, connID)
	}
	rt.mx.Unlock()
	if !ok {
		return ErrNotConnected
	}

	metrics.ConnectionsLive.Dec()
	if sess.room != "" {
		rt.leaveRoom(ctx, connID, sess.room)
	}
	rt.logger.Debug().Str("connID", connID).Msg("connection unregistered")
	return nil
}

// EndRoom force-terminates a room by name. Idempotent; unknown names are
// ignored.
func (rt *Router) EndRoom(ctx context.Context, name string) {
	rm, ok := rt.rooms.Get(name)
	if !ok {
		return
	}
	effects := rm.End()
	if rt.rooms.Destroy(name) {
		metrics.RoomsLive.Dec()
	}
	rt.logger.Debug().Str("room", name).Msg("room terminated")
	rt.deliver(ctx, effects)
}

func (rt *Router) readEvents(ctx context.Context, connID string, rx <-chan model.Inbound) {
recvLoop:
	for {
		select {
		case <-ctx.Done():
			break recvLoop
		case in, ok := <-rx:
			if !ok {
				break recvLoop
			}
			rt.dispatch(ctx, connID, in)
		}
	}
}

// inboundKinds bounds the event-counter label set; anything else is
// client-controlled junk and only bumps the dropped counter.
var inboundKinds = map[string]struct{}{
	model.KindJoinRequest: {},
	model.KindJoinRoom:    {},
	model.KindApproveAll:  {},
	model.KindSignal:      {},
	model.KindSendChat:    {},
	model.KindSendEmoji:   {},
	model.KindLeaveRoom:   {},
}

func (rt *Router) dispatch(ctx context.Context, connID string, in model.Inbound) {
	if _, ok := inboundKinds[in.Kind]; ok {
		metrics.EventsTotal.WithLabelValues(in.Kind).Inc()
	}
	logger := rt.logger.With().
		Str("connID", connID).
		Str("kind", in.Kind).
		Logger()

	switch in.Kind {
	case model.KindJoinRequest:
		var p model.JoinRequestPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.Room == "" {
			rt.drop(&logger, in, err)
			return
		}
		name, ok := rt.enterRoom(ctx, connID, p.Room, p.UserName)
		if !ok {
			rt.drop(&logger, in, ErrNotConnected)
			return
		}
		rm, created := rt.rooms.GetOrCreate(p.Room)
		if created {
			metrics.RoomsLive.Inc()
		}
		rt.deliver(ctx, rm.JoinRequest(connID, name))

	case model.KindJoinRoom:
		var p model.JoinRoomPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.Room == "" {
			rt.drop(&logger, in, err)
			return
		}
		name, ok := rt.enterRoom(ctx, connID, p.Room, p.UserName)
		if !ok {
			rt.drop(&logger, in, ErrNotConnected)
			return
		}
		rm, created := rt.rooms.GetOrCreate(p.Room)
		if created {
			metrics.RoomsLive.Inc()
		}
		rt.deliver(ctx, rm.Join(connID, name, p.Host))

	case model.KindApproveAll:
		roomName, err := roomNamePayload(in.Payload)
		if err != nil {
			rt.drop(&logger, in, err)
			return
		}
		rm, ok := rt.rooms.Get(roomName)
		if !ok {
			return
		}
		rt.deliver(ctx, rm.ApproveAll(connID))

	case model.KindSignal:
		var p model.SignalPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.To == "" {
			rt.drop(&logger, in, err)
			return
		}
		// opaque relay, room state is not consulted
		rt.deliver(ctx, []room.Effect{{
			Target: p.To,
			Event: model.Event{
				Kind:    model.KindSignal,
				Payload: model.SignalRelay{From: connID, Data: p.Data},
			},
		}})

	case model.KindSendChat:
		var p model.SendChatPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.Room == "" {
			rt.drop(&logger, in, err)
			return
		}
		if rm, ok := rt.rooms.Get(p.Room); ok {
			rt.deliver(ctx, rm.Chat(connID, p.Message))
		}

	case model.KindSendEmoji:
		var p model.SendEmojiPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.Room == "" {
			rt.drop(&logger, in, err)
			return
		}
		if rm, ok := rt.rooms.Get(p.Room); ok {
			rt.deliver(ctx, rm.Emoji(connID, p.Emoji))
		}

	case model.KindLeaveRoom:
		roomName, err := roomNamePayload(in.Payload)
		if err != nil {
			rt.drop(&logger, in, err)
			return
		}
		rt.mx.Lock()
		if sess, ok := rt.sessions[connID]; ok && sess.room == roomName {
			sess.room = ""
		}
		rt.mx.Unlock()
		rt.leaveRoom(ctx, connID, roomName)

	default:
		rt.drop(&logger, in, errors.New("unknown event kind"))
	}
}

// enterRoom records the room a connection touches and its declared display
// name. Touching a different room first triggers an implicit leave on the
// previous one, so a connection occupies at most one room. A false result
// means the connection is no longer registered; the caller must not touch
// any room on its behalf, otherwise a concurrent disconnect would leave a
// ghost member no cleanup ever visits.
func (rt *Router) enterRoom(ctx context.Context, connID, roomName, userName string) (string, bool) {
	rt.mx.Lock()
	sess, ok := rt.sessions[connID]
	if !ok {
		rt.mx.Unlock()
		return "", false
	}
	if userName != "" {
		sess.name = userName
	}
	name := sess.name
	prev := sess.room
	sess.room = roomName
	rt.mx.Unlock()

	if prev != "" && prev != roomName {
		rt.leaveRoom(ctx, connID, prev)
	}
	return name, true
}

func (rt *Router) leaveRoom(ctx context.Context, connID, roomName string) {
	rm, ok := rt.rooms.Get(roomName)
	if !ok {
		return
	}
	effects, destroyed := rm.Leave(connID)
	if destroyed && rt.rooms.Destroy(roomName) {
		metrics.RoomsLive.Dec()
	}
	rt.deliver(ctx, effects)
}

// deliver forwards effects to their target connections. It runs with no
// room lock held; a target that went away in the meantime is skipped.
func (rt *Router) deliver(ctx context.Context, effects []room.Effect) {
	for _, ef := range effects {
		rt.mx.Lock()
		sess, ok := rt.sessions[ef.Target]
		rt.mx.Unlock()
		if !ok {
			rt.logger.Debug().
				Str("dst", ef.Target).
				Str("kind", ef.Event.Kind).
				Msg("cannot deliver, target not connected")
			continue
		}
		if dead := rt.send(ctx, ef.Event, ef.Target, sess.wire.TX); dead {
			// a wedged outbound queue means the client is gone
			go rt.cleanupDead(ef.Target)
		}
	}
}

func (rt *Router) send(ctx context.Context, ev model.Event, dst string, tx chan<- model.Event) bool {
	var dead bool
	tCh := time.NewTimer(defaultSendTimeout)
	select {
	case <-ctx.Done():
	case <-tCh.C:
		rt.logger.Error().Str("dst", dst).Str("kind", ev.Kind).Msg("dead endpoint")
		dead = true
	case tx <- ev:
		rt.logger.Trace().Str("dst", dst).Str("kind", ev.Kind).Msg("event forwarded")
	}
	tCh.Stop()
	return dead
}

func (rt *Router) cleanupDead(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCleanupTimeout)
	defer cancel()
	if err := rt.Disconnect(ctx, connID); err != nil {
		rt.logger.Debug().Err(err).Str("connID", connID).Msg("dead endpoint already cleaned up")
	}
}

func (rt *Router) drop(logger *zerolog.Logger, in model.Inbound, err error) {
	metrics.DroppedEventsTotal.Inc()
	logger.Warn().Err(err).Msg("event dropped")
	logger.Trace().Str("event", spew.Sdump(in)).Msg("dropped event dump")
}

func roomNamePayload(raw json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", err
	}
	if name == "" {
		return "", errors.New("empty room name")
	}
	return name, nil
}
