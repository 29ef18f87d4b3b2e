package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Asmit356/anant-signaling/backend/model"
	"github.com/Asmit356/anant-signaling/backend/registry"
	"github.com/Asmit356/anant-signaling/backend/router"
)

const testRecvTimeout = 2 * time.Second

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	rt := router.New(router.Config{
		Logger: &logger,
		Rooms:  registry.New(),
	})
	srv := NewServer(Config{
		Logger:     &logger,
		Signaling:  rt,
		ListenAddr: ":0",
		CORSOrigin: "*",
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

type wsClient struct {
	conn *websocket.Conn
}

func dialWS(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{conn: conn}
}

func (c *wsClient) send(t *testing.T, kind string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteJSON(model.Inbound{Kind: kind, Payload: b}))
}

// expect reads the next event and requires it to be of the given kind,
// returning its raw payload.
func (c *wsClient) expect(t *testing.T, kind string) json.RawMessage {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(testRecvTimeout)))
	var ev struct {
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, c.conn.ReadJSON(&ev))
	require.Equal(t, kind, ev.Kind)
	return ev.Payload
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.OK)
}

func TestEndRoomRequiresName(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/endRoom")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignalingFlowOverWebSocket(t *testing.T) {
	ts := newTestServer(t)

	host := dialWS(t, ts)
	host.send(t, model.KindJoinRoom,
		model.JoinRoomPayload{Room: "R", UserName: "Alice", Host: true})

	var peers []string
	require.NoError(t, json.Unmarshal(host.expect(t, model.KindPeers), &peers))
	assert.Empty(t, peers)
	host.expect(t, model.KindWaitingUser)

	guest := dialWS(t, ts)
	guest.send(t, model.KindJoinRequest,
		model.JoinRequestPayload{Room: "R", UserName: "Bob"})

	var waiting []model.WaitingEntry
	require.NoError(t, json.Unmarshal(host.expect(t, model.KindWaitingUser), &waiting))
	require.Len(t, waiting, 1)
	assert.Equal(t, "Bob", waiting[0].Name)
	guestID := waiting[0].ID

	host.send(t, model.KindApproveAll, "R")
	var approvedRoom string
	require.NoError(t, json.Unmarshal(guest.expect(t, model.KindApproved), &approvedRoom))
	assert.Equal(t, "R", approvedRoom)
	require.NoError(t, json.Unmarshal(host.expect(t, model.KindWaitingUser), &waiting))
	assert.Empty(t, waiting)

	guest.send(t, model.KindJoinRoom,
		model.JoinRoomPayload{Room: "R", UserName: "Bob"})
	require.NoError(t, json.Unmarshal(guest.expect(t, model.KindPeers), &peers))
	require.Len(t, peers, 1)
	hostID := peers[0]

	var joined model.PeerJoined
	require.NoError(t, json.Unmarshal(host.expect(t, model.KindPeerJoined), &joined))
	assert.Equal(t, model.PeerJoined{ID: guestID, UserName: "Bob", IsHost: false}, joined)
	host.expect(t, model.KindWaitingUser)

	// signal relay goes only to the addressed peer
	guest.send(t, model.KindSignal, model.SignalPayload{
		To:   hostID,
		Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	var relayed model.SignalRelay
	require.NoError(t, json.Unmarshal(host.expect(t, model.KindSignal), &relayed))
	assert.Equal(t, guestID, relayed.From)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(relayed.Data))

	// chat reaches both parties, sender included
	guest.send(t, model.KindSendChat, model.SendChatPayload{Room: "R", Message: "hello"})
	var msg model.ChatMessage
	require.NoError(t, json.Unmarshal(host.expect(t, model.KindChat), &msg))
	assert.Equal(t, model.ChatMessage{Name: "Bob", Message: "hello"}, msg)
	require.NoError(t, json.Unmarshal(guest.expect(t, model.KindChat), &msg))
	assert.Equal(t, "Bob", msg.Name)

	// admin termination reaches everyone
	resp, err := http.Get(ts.URL + "/endRoom?room=R")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack endRoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.True(t, ack.Success)

	host.expect(t, model.KindMeetingEnded)
	guest.expect(t, model.KindMeetingEnded)
}

func TestHostDisconnectEndsMeeting(t *testing.T) {
	ts := newTestServer(t)

	host := dialWS(t, ts)
	host.send(t, model.KindJoinRoom,
		model.JoinRoomPayload{Room: "R", UserName: "Alice", Host: true})
	host.expect(t, model.KindPeers)
	host.expect(t, model.KindWaitingUser)

	guest := dialWS(t, ts)
	guest.send(t, model.KindJoinRoom,
		model.JoinRoomPayload{Room: "R", UserName: "Bob"})
	guest.expect(t, model.KindPeers)

	require.NoError(t, host.conn.Close())

	guest.expect(t, model.KindPeerLeft)
	guest.expect(t, model.KindMeetingEnded)
}

func TestMalformedFrameKeepsConnectionAlive(t *testing.T) {
	ts := newTestServer(t)

	c := dialWS(t, ts)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	c.send(t, model.KindJoinRoom,
		model.JoinRoomPayload{Room: "R", UserName: "Alice", Host: true})
	c.expect(t, model.KindPeers)
}
