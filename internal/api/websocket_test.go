package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/heatpump-link/internal/bridges/heatpump"
)

// notifyingPoller records the cycle listener registered by Start.
type notifyingPoller struct {
	fakePoller
	listener func(heatpump.PollCycle)
}

func (n *notifyingPoller) OnCycle(fn func(heatpump.PollCycle)) { n.listener = fn }

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.stream.closeAll)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error: %v", err)
	}
	return conn
}

// exchange sends req and reads the reply.
func exchange(t *testing.T, conn *websocket.Conn, req streamRequest) streamReply {
	t.Helper()

	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("WriteJSON(%s) error: %v", req.Type, err)
	}
	var reply streamReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	return reply
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()

	reply := exchange(t, conn, streamRequest{Type: "subscribe", ID: "sub-1", Channels: channels})
	if reply.Type != "subscribed" || reply.ID != "sub-1" || len(reply.Channels) != len(channels) {
		t.Fatalf("subscribe reply = %+v, want subscribed id sub-1 %v", reply, channels)
	}
}

func TestWebSocket_CycleEvent(t *testing.T) {
	srv := testServer(t, &fakePoller{}, nil, nil)
	conn := dialWS(t, srv)
	subscribe(t, conn, ChannelCycle)

	srv.broadcastCycle(testCycle())

	var ev struct {
		Type string     `json:"type"`
		At   string     `json:"at"`
		Data CycleEvent `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}

	if ev.Type != ChannelCycle || ev.At == "" {
		t.Errorf("event type = %q at %q, want %q with a timestamp", ev.Type, ev.At, ChannelCycle)
	}
	want := CycleEvent{Cycle: 7, ScheduledAt: "2025-03-14T12:00:55Z", Published: 2, Failed: 1, DurationMS: 1500}
	if ev.Data != want {
		t.Errorf("data = %+v, want %+v", ev.Data, want)
	}
}

func TestWebSocket_ValuesEvent(t *testing.T) {
	srv := testServer(t, &fakePoller{}, nil, nil)
	conn := dialWS(t, srv)
	subscribe(t, conn, ChannelValues)

	srv.broadcastCycle(testCycle())

	var ev struct {
		Type string         `json:"type"`
		Data ValuesResponse `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}

	if ev.Type != ChannelValues {
		t.Fatalf("type = %q, want %q", ev.Type, ChannelValues)
	}
	if got := ev.Data.Values["house/actual_temp"]; got.Value != 21.3 || got.Topic != "home/house/actual_temp" {
		t.Errorf("house/actual_temp = %+v, want 21.3 on home/house/actual_temp", got)
	}
	if got := ev.Data.Values["heatpump/error"]; got.Error == "" {
		t.Error("heatpump/error should carry the read error")
	}
}

func TestWebSocket_Replies(t *testing.T) {
	srv := testServer(t, &fakePoller{}, nil, nil)
	conn := dialWS(t, srv)

	tests := []struct {
		name    string
		req     streamRequest
		want    string
		wantErr bool
	}{
		{name: "ping", req: streamRequest{Type: "ping", ID: "p1"}, want: "pong"},
		{name: "unknown type", req: streamRequest{Type: "bogus", ID: "b1"}, want: "error", wantErr: true},
		{name: "unsubscribe unknown channel", req: streamRequest{Type: "unsubscribe", ID: "u1", Channels: []string{"nope"}}, want: "unsubscribed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := exchange(t, conn, tt.req)
			if reply.Type != tt.want || reply.ID != tt.req.ID {
				t.Errorf("reply = %+v, want type %s id %s", reply, tt.want, tt.req.ID)
			}
			if (reply.Error != "") != tt.wantErr {
				t.Errorf("reply error = %q, wantErr %v", reply.Error, tt.wantErr)
			}
		})
	}
}

func TestWebSocket_InvalidJSON(t *testing.T) {
	srv := testServer(t, &fakePoller{}, nil, nil)
	conn := dialWS(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}
	var reply streamReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if reply.Type != "error" || reply.Error == "" {
		t.Errorf("reply = %+v, want an error", reply)
	}

	// The connection stays usable.
	if reply := exchange(t, conn, streamRequest{Type: "ping", ID: "again"}); reply.Type != "pong" {
		t.Errorf("reply after bad JSON = %+v, want pong", reply)
	}
}

func TestWebSocket_UnsubscribedClientsSkipped(t *testing.T) {
	srv := testServer(t, &fakePoller{}, nil, nil)
	conn := dialWS(t, srv)
	subscribe(t, conn, ChannelCycle)

	reply := exchange(t, conn, streamRequest{Type: "unsubscribe", ID: "u1", Channels: []string{ChannelCycle}})
	if reply.Type != "unsubscribed" {
		t.Fatalf("unsubscribe reply = %+v", reply)
	}

	srv.broadcastCycle(testCycle())

	// A pong arriving first shows the broadcast was not delivered.
	if next := exchange(t, conn, streamRequest{Type: "ping", ID: "after"}); next.Type != "pong" || next.ID != "after" {
		t.Errorf("next message = %+v, want the pong", next)
	}
}

func TestWebSocket_ClientCount(t *testing.T) {
	srv := testServer(t, &fakePoller{}, nil, nil)
	conn := dialWS(t, srv)
	subscribe(t, conn, ChannelCycle)

	if got := srv.stream.count(); got != 1 {
		t.Fatalf("count() = %d, want 1", got)
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		t.Fatalf("WriteMessage(close) error: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.stream.count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client was not removed from the stream")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStart_RegistersCycleListener(t *testing.T) {
	poller := &notifyingPoller{}
	log := testServer(t, &fakePoller{}, nil, nil).logger

	srv, err := New(Deps{Logger: log, Poller: poller, Session: &fakeSession{}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	srv.cfg.Host = "127.0.0.1"

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Close()

	if poller.listener == nil {
		t.Fatal("Start() did not register a cycle listener")
	}
	poller.listener(testCycle())
}
