package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestAgentWS(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/agent_ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	exchange := func(msg string) string {
		t.Helper()
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return string(data)
	}

	reply := exchange(`{"type":"AGENT_EXECUTE","data":{"tool":{"tool_id":"` + echoID + `"},"kwargs":{"text":"hi"}}}`)
	if reply != `{"response":"hi"}` {
		t.Fatalf("unexpected execute reply %s", reply)
	}

	reply = exchange(`{"type":"AGENT_METADATA","data":{"tool_id":"` + echoID + `"}}`)
	if !strings.Contains(reply, `"class_name":"Echo"`) {
		t.Fatalf("unexpected metadata reply %s", reply)
	}

	reply = exchange(`{"type":"AGENT_TELEPORT","data":{}}`)
	if !strings.Contains(reply, `"code":"UNKNOWN_MESSAGE_TYPE"`) {
		t.Fatalf("expected error reply, got %s", reply)
	}

	// The socket stays usable after an error.
	reply = exchange(`{"type":"AGENT_EXECUTE","data":{"tool":{"tool_id":"` + echoID + `"},"kwargs":{"text":"again"}}}`)
	if reply != `{"response":"again"}` {
		t.Fatalf("unexpected reply after error %s", reply)
	}

	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil || !strings.Contains(string(data), "MALFORMED_REQUEST") {
		t.Fatalf("expected MALFORMED_REQUEST for binary frame, got %s (%v)", data, err)
	}
}
