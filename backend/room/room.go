package room

import (
	"sort"
	"sync"

	"github.com/Asmit356/anant-signaling/backend/model"
)

// Effect is an outbound message computed under the room lock. The caller
// dispatches effects after the lock is released; the room never talks to
// the transport directly.
type Effect struct {
	Target string
	Event  model.Event
}

type member struct {
	name   string
	isHost bool
}

// Room holds the authoritative state of one meeting: host identity, the
// admitted participants and the FIFO waiting queue. All mutations happen
// under the room's own mutex and return the effects to dispatch.
type Room struct {
	name string

	mx       sync.Mutex
	host     string
	admitted map[string]member
	waiting  []model.WaitingEntry
}

func New(name string) *Room {
	return &Room{
		name:     name,
		admitted: make(map[string]member),
	}
}

func (r *Room) Name() string {
	return r.name
}

// JoinRequest puts a guest into the waiting queue. A repeated request from
// the same connection keeps its original queue position, only the name is
// refreshed. Already admitted connections are ignored.
func (r *Room) JoinRequest(connID, name string) []Effect {
	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.admitted[connID]; ok {
		return nil
	}

	queued := false
	for i := range r.waiting {
		if r.waiting[i].ID == connID {
			r.waiting[i].Name = name
			queued = true
			break
		}
	}
	if !queued {
		r.waiting = append(r.waiting, model.WaitingEntry{ID: connID, Name: name})
	}

	if r.host == "" {
		return nil
	}
	return []Effect{r.waitingUpdate()}
}

// Join admits a connection. The host flag is self-asserted; when a second
// connection claims host the last writer wins and the previous host is
// demoted to a regular participant.
func (r *Room) Join(connID, name string, asHost bool) []Effect {
	r.mx.Lock()
	defer r.mx.Unlock()

	if asHost {
		if r.host != "" && r.host != connID {
			if prev, ok := r.admitted[r.host]; ok {
				prev.isHost = false
				r.admitted[r.host] = prev
			}
		}
		r.host = connID
	} else if r.host == connID {
		// host re-joined without the flag, nobody holds the room anymore
		r.host = ""
	}

	r.admitted[connID] = member{name: name, isHost: asHost}
	r.dropWaiting(connID)

	peers := r.peerIDs(connID)
	effects := []Effect{{
		Target: connID,
		Event:  model.Event{Kind: model.KindPeers, Payload: peers},
	}}
	joined := model.PeerJoined{ID: connID, UserName: name, IsHost: asHost}
	for _, id := range peers {
		effects = append(effects, Effect{
			Target: id,
			Event:  model.Event{Kind: model.KindPeerJoined, Payload: joined},
		})
	}
	if r.host != "" {
		// a host joining after guests must see who is already waiting
		effects = append(effects, r.waitingUpdate())
	}
	return effects
}

// ApproveAll releases the whole waiting queue. Only the current host may
// approve; anyone else is silently ignored. Approval does not admit: each
// guest gets an approved event and is expected to come back with join-room.
func (r *Room) ApproveAll(callerID string) []Effect {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.host == "" || callerID != r.host {
		return nil
	}

	effects := make([]Effect, 0, len(r.waiting)+1)
	for _, w := range r.waiting {
		effects = append(effects, Effect{
			Target: w.ID,
			Event:  model.Event{Kind: model.KindApproved, Payload: r.name},
		})
	}
	r.waiting = nil
	effects = append(effects, r.waitingUpdate())
	return effects
}

// Chat broadcasts a chat message to every admitted participant, sender
// included. The sender's display name falls back to "User" when the sender
// is not admitted.
func (r *Room) Chat(fromID, text string) []Effect {
	r.mx.Lock()
	defer r.mx.Unlock()

	return r.broadcast(model.Event{
		Kind:    model.KindChat,
		Payload: model.ChatMessage{Name: r.memberName(fromID), Message: text},
	})
}

// Emoji broadcasts a reaction to every admitted participant.
func (r *Room) Emoji(fromID, emoji string) []Effect {
	r.mx.Lock()
	defer r.mx.Unlock()

	return r.broadcast(model.Event{
		Kind:    model.KindEmoji,
		Payload: model.EmojiReaction{Name: r.memberName(fromID), Emoji: emoji},
	})
}

// Leave removes a connection from the room, for explicit leave-room and
// transport disconnect alike. If the host leaves the meeting ends for
// everyone. The destroyed result tells the caller to drop the room from
// the registry; the room holds no reference back to it.
func (r *Room) Leave(connID string) (effects []Effect, destroyed bool) {
	r.mx.Lock()
	defer r.mx.Unlock()

	wasWaiting := r.dropWaiting(connID)

	if _, ok := r.admitted[connID]; ok {
		wasHost := r.host == connID
		delete(r.admitted, connID)

		remaining := r.peerIDs(connID)
		left := model.PeerLeft{ID: connID}
		for _, id := range remaining {
			effects = append(effects, Effect{
				Target: id,
				Event:  model.Event{Kind: model.KindPeerLeft, Payload: left},
			})
		}

		if wasHost {
			effects = append(effects, r.endMeeting()...)
			return effects, true
		}
	}

	if len(r.admitted) == 0 && len(r.waiting) == 0 && r.host == "" {
		return effects, true
	}
	if wasWaiting && r.host != "" {
		// only an actual queue change is reported; a guest disconnecting
		// between approval and re-join stays invisible to the host
		effects = append(effects, r.waitingUpdate())
	}
	return effects, false
}

// End terminates the meeting out-of-band: meeting-ended goes to every
// admitted and waiting connection and the room must be destroyed.
func (r *Room) End() []Effect {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.endMeeting()
}

func (r *Room) endMeeting() []Effect {
	effects := make([]Effect, 0, len(r.admitted)+len(r.waiting))
	ended := model.Event{Kind: model.KindMeetingEnded}
	for _, id := range r.peerIDs("") {
		effects = append(effects, Effect{Target: id, Event: ended})
	}
	for _, w := range r.waiting {
		effects = append(effects, Effect{Target: w.ID, Event: ended})
	}
	r.admitted = make(map[string]member)
	r.waiting = nil
	r.host = ""
	return effects
}

func (r *Room) broadcast(ev model.Event) []Effect {
	ids := r.peerIDs("")
	effects := make([]Effect, 0, len(ids))
	for _, id := range ids {
		effects = append(effects, Effect{Target: id, Event: ev})
	}
	return effects
}

func (r *Room) memberName(connID string) string {
	if m, ok := r.admitted[connID]; ok {
		return m.name
	}
	return "User"
}

// peerIDs returns admitted connection IDs except connID, sorted so that
// emission order is deterministic.
func (r *Room) peerIDs(connID string) []string {
	ids := make([]string, 0, len(r.admitted))
	for id := range r.admitted {
		if id != connID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) dropWaiting(connID string) bool {
	for i := range r.waiting {
		if r.waiting[i].ID == connID {
			r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) waitingUpdate() Effect {
	waiting := make([]model.WaitingEntry, len(r.waiting))
	copy(waiting, r.waiting)
	return Effect{
		Target: r.host,
		Event:  model.Event{Kind: model.KindWaitingUser, Payload: waiting},
	}
}
