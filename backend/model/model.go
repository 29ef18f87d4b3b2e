package model

import "encoding/json"

// Inbound event kinds (client -> server).
const (
	KindJoinRequest = "join-request"
	KindJoinRoom    = "join-room"
	KindApproveAll  = "approve-all"
	KindSignal      = "signal"
	KindSendChat    = "send-chat"
	KindSendEmoji   = "send-emoji"
	KindLeaveRoom   = "leave-room"
)

// Outbound event kinds (server -> client). KindSignal is used in both
// directions.
const (
	KindWaitingUser  = "waiting-user"
	KindApproved     = "approved"
	KindPeers        = "peers"
	KindPeerJoined   = "peer-joined"
	KindPeerLeft     = "peer-left"
	KindChat         = "chat"
	KindEmoji        = "emoji"
	KindMeetingEnded = "meeting-ended"
)

// Inbound is a client message as it arrives from the transport.
// Payload is decoded per Kind by the router.
type Inbound struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is a server-to-client message. Payload is marshaled as a whole
// by the transport sender.
type Event struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound payloads.
type (
	JoinRequestPayload struct {
		Room     string `json:"room"`
		UserName string `json:"userName"`
	}

	JoinRoomPayload struct {
		Room     string `json:"room"`
		UserName string `json:"userName"`
		Host     bool   `json:"host"`
	}

	SignalPayload struct {
		To   string          `json:"to"`
		Data json.RawMessage `json:"data"`
	}

	SendChatPayload struct {
		Room    string `json:"room"`
		Message string `json:"message"`
	}

	SendEmojiPayload struct {
		Room  string `json:"room"`
		Emoji string `json:"emoji"`
	}
)

// Outbound payloads.
type (
	WaitingEntry struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	PeerJoined struct {
		ID       string `json:"id"`
		UserName string `json:"userName"`
		IsHost   bool   `json:"isHost"`
	}

	PeerLeft struct {
		ID string `json:"id"`
	}

	SignalRelay struct {
		From string          `json:"from"`
		Data json.RawMessage `json:"data"`
	}

	ChatMessage struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}

	EmojiReaction struct {
		Name  string `json:"name"`
		Emoji string `json:"emoji"`
	}
)

// Wire is the pair of channels connecting one transport session to the
// router. RX carries client events in, TX carries server events out.
type Wire struct {
	RX chan Inbound
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Inbound),
		TX: make(chan Event),
	}
}
