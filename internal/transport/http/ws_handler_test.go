package http

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func dialWS(t *testing.T, ctx context.Context, env *testEnv, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// mustFrame reads frames until one with the wanted type tag arrives.
func mustFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()

	for {
		var frame map[string]any
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read while waiting for %q frame: %v", frameType, err)
		}
		if frame["type"] == frameType {
			return frame
		}
	}
}

func sendAction(t *testing.T, ctx context.Context, conn *websocket.Conn, action map[string]any) {
	t.Helper()

	if err := wsjson.Write(ctx, conn, action); err != nil {
		t.Fatalf("write action failed: %v", err)
	}
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, token := range []string{"", "garbage"} {
		wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws?token=" + token
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			// Some dial failures already carry the rejection; that's fine.
			continue
		}
		_, _, err = conn.Read(ctx)
		if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
			t.Fatalf("token %q: expected policy violation close, got %v", token, err)
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}
}

func TestWebSocketJoinAndMessageFlow(t *testing.T) {
	env := startTestServer(t)
	threadID, alice, bob := seedThreadWithMembers(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bobConn := dialWS(t, ctx, env, bob)
	sendAction(t, ctx, bobConn, map[string]any{"action": "join", "thread_id": threadID})
	mustFrame(t, ctx, bobConn, "system") // bob sees his own join notice

	aliceConn := dialWS(t, ctx, env, alice)
	sendAction(t, ctx, aliceConn, map[string]any{"action": "join", "thread_id": threadID})
	mustFrame(t, ctx, aliceConn, "system")

	sendAction(t, ctx, aliceConn, map[string]any{
		"action":    "message",
		"thread_id": threadID,
		"content":   "hi there",
	})

	frame := mustFrame(t, ctx, bobConn, "message")
	if frame["content"] != "hi there" || frame["sender"] != "alice" {
		t.Fatalf("unexpected message frame: %+v", frame)
	}
	if int64(frame["thread_id"].(float64)) != threadID {
		t.Fatalf("unexpected thread id in frame: %+v", frame)
	}

	// The message is durable and visible over the history endpoint.
	status, body := env.doJSON(t, "GET", fmt.Sprintf("/api/threads/%d/messages", threadID), bob, nil)
	if status != 200 || !strings.Contains(string(body), "hi there") {
		t.Fatalf("message missing from history: %d %s", status, body)
	}

	// Typing indicators flow through the same room without persistence.
	sendAction(t, ctx, aliceConn, map[string]any{"action": "typing_start", "thread_id": threadID})
	typing := mustFrame(t, ctx, bobConn, "typing")
	if typing["username"] != "alice" || typing["is_typing"] != true {
		t.Fatalf("unexpected typing frame: %+v", typing)
	}
}

func TestWebSocketUnauthorizedJoin(t *testing.T) {
	env := startTestServer(t)
	threadID, _, _ := seedThreadWithMembers(t, env)
	carol := env.registerUser(t, "carol")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, env, carol)
	sendAction(t, ctx, conn, map[string]any{"action": "join", "thread_id": threadID})

	frame := mustFrame(t, ctx, conn, "system")
	if frame["code"] != "not_a_member" {
		t.Fatalf("expected not_a_member, got %+v", frame)
	}
	if got := env.rooms.Count(threadID); got != 0 {
		t.Fatalf("unauthorized user must not join, room count %d", got)
	}
}

func TestWebSocketUnknownActionKeepsSession(t *testing.T) {
	env := startTestServer(t)
	threadID, alice, _ := seedThreadWithMembers(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, env, alice)
	sendAction(t, ctx, conn, map[string]any{"action": "ping"})
	sendAction(t, ctx, conn, map[string]any{"action": "join", "thread_id": threadID})

	frame := mustFrame(t, ctx, conn, "system")
	if code, ok := frame["code"]; ok && code != "" {
		t.Fatalf("expected join notice after unknown action, got %+v", frame)
	}
}

func TestWebSocketPresenceLifecycle(t *testing.T) {
	env := startTestServer(t)
	alice := env.registerUser(t, "alice")
	bob := env.registerUser(t, "bob")
	aliceID := env.userID(t, alice)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bobConn := dialWS(t, ctx, env, bob)
	mustFrame(t, ctx, bobConn, "presence") // bob's own online event

	aliceConn := dialWS(t, ctx, env, alice)
	online := mustFrame(t, ctx, bobConn, "presence")
	if int64(online["user_id"].(float64)) != aliceID || online["status"] != "online" {
		t.Fatalf("unexpected presence frame: %+v", online)
	}

	aliceConn.Close(websocket.StatusNormalClosure, "bye")

	offline := mustFrame(t, ctx, bobConn, "presence")
	if int64(offline["user_id"].(float64)) != aliceID || offline["status"] != "offline" {
		t.Fatalf("unexpected presence frame: %+v", offline)
	}
}
