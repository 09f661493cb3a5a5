// Command ws_smoke exercises a running server end to end: it logs in over
// the REST API, opens the WebSocket, joins a thread, sends one message, and
// prints the frames it gets back.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	wsAddr := flag.String("ws", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "username")
	password := flag.String("password", "password123", "password")
	threadID := flag.Int64("thread", 1, "thread id to join")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := obtainToken(ctx, *apiAddr, *user, *password)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	conn, _, err := websocket.Dial(ctx, *wsAddr+"?token="+token, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	mustSend := func(v interface{}) {
		if err := wsjson.Write(ctx, conn, v); err != nil {
			log.Fatalf("send: %v", err)
		}
	}

	mustSend(map[string]interface{}{"action": "join", "thread_id": *threadID})
	mustSend(map[string]interface{}{"action": "message", "thread_id": *threadID, "content": *text})

	for {
		var frame map[string]interface{}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			log.Fatalf("read: %v", err)
		}

		fmt.Printf("frame: type=%v", frame["type"])
		if code, ok := frame["code"]; ok {
			fmt.Printf(" code=%v", code)
		}
		fmt.Println()

		raw, _ := json.Marshal(frame)
		fmt.Printf("  %s\n", raw)

		if frame["type"] == "message" {
			return
		}
	}
}

// obtainToken logs in, registering the account first if it does not exist.
func obtainToken(ctx context.Context, apiAddr, user, password string) (string, error) {
	token, err := authRequest(ctx, apiAddr+"/api/login", user, password)
	if err == nil {
		return token, nil
	}
	return authRequest(ctx, apiAddr+"/api/register", user, password)
}

func authRequest(ctx context.Context, url, user, password string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"username": user, "password": password})
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", fmt.Errorf("no token in response")
	}
	return body.Token, nil
}
