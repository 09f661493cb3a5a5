package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	stdhttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/echolabs/echo-server/internal/store"
)

func seedThreadWithMembers(t *testing.T, env *testEnv) (threadID int64, alice, bob string) {
	t.Helper()

	alice = env.registerUser(t, "alice")
	bob = env.registerUser(t, "bob")
	threadID = env.createThread(t, alice, "general")

	status, _ := env.doJSON(t, "POST", fmt.Sprintf("/api/threads/%d/members", threadID), alice,
		map[string]any{"user_id": env.userID(t, bob)})
	if status != stdhttp.StatusOK {
		t.Fatalf("seeding bob failed: %d", status)
	}
	return threadID, alice, bob
}

func TestMessageHistoryPagination(t *testing.T) {
	env := startTestServer(t)
	threadID, alice, bob := seedThreadWithMembers(t, env)
	ctx := context.Background()

	ids := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		msg := &store.Message{
			ThreadID: threadID,
			SenderID: env.userID(t, alice),
			Content:  fmt.Sprintf("message %d", i),
		}
		if err := env.store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	status, body := env.doJSON(t, "GET", fmt.Sprintf("/api/threads/%d/messages?limit=2", threadID), bob, nil)
	if status != stdhttp.StatusOK {
		t.Fatalf("history failed: %d %s", status, body)
	}
	var page []MessageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("unexpected first page: %+v", page)
	}

	status, body = env.doJSON(t, "GET",
		fmt.Sprintf("/api/threads/%d/messages?before_id=%d", threadID, page[1].ID), bob, nil)
	if status != stdhttp.StatusOK {
		t.Fatalf("history with before_id failed: %d %s", status, body)
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(page) != 3 || page[0].ID != ids[2] {
		t.Fatalf("unexpected second page: %+v", page)
	}

	// Non-members get no history.
	carol := env.registerUser(t, "carol")
	status, _ = env.doJSON(t, "GET", fmt.Sprintf("/api/threads/%d/messages", threadID), carol, nil)
	if status != stdhttp.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", status)
	}
}

func TestMarkRead(t *testing.T) {
	env := startTestServer(t)
	threadID, alice, bob := seedThreadWithMembers(t, env)
	ctx := context.Background()

	msg := &store.Message{ThreadID: threadID, SenderID: env.userID(t, alice), Content: "hi"}
	if err := env.store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := env.store.CreateReceipts(ctx, msg.ID, []int64{env.userID(t, bob)}); err != nil {
		t.Fatalf("seed receipts: %v", err)
	}

	status, body := env.doJSON(t, "POST", fmt.Sprintf("/api/messages/%d/read", msg.ID), bob, nil)
	if status != stdhttp.StatusOK {
		t.Fatalf("mark read failed: %d %s", status, body)
	}

	receipts, err := env.store.ListReceipts(ctx, msg.ID)
	if err != nil || len(receipts) != 1 {
		t.Fatalf("list receipts: %v %+v", err, receipts)
	}
	if receipts[0].ReadAt == nil || receipts[0].DeliveredAt == nil {
		t.Fatalf("receipt not stamped: %+v", receipts[0])
	}

	// The sender has no receipt for their own message.
	status, _ = env.doJSON(t, "POST", fmt.Sprintf("/api/messages/%d/read", msg.ID), alice, nil)
	if status != stdhttp.StatusNotFound {
		t.Fatalf("expected 404 for sender, got %d", status)
	}

	// Unknown message.
	status, _ = env.doJSON(t, "POST", "/api/messages/99999/read", bob, nil)
	if status != stdhttp.StatusNotFound {
		t.Fatalf("expected 404 for unknown message, got %d", status)
	}
}

func TestUploadFile(t *testing.T) {
	env := startTestServer(t)
	threadID, alice, bob := seedThreadWithMembers(t, env)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "report.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("attachment body")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	writer.Close()

	req, err := stdhttp.NewRequest("POST",
		env.ts.URL+fmt.Sprintf("/api/threads/%d/files", threadID), &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice)

	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("unexpected upload status: %d", resp.StatusCode)
	}

	var created MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if created.FilePath == "" || created.Content != "report.txt" {
		t.Fatalf("unexpected message: %+v", created)
	}
	// Clients get an opaque stored name, never the server-local path.
	if strings.ContainsAny(created.FilePath, `/\`) {
		t.Fatalf("file path leaks server layout: %q", created.FilePath)
	}

	data, err := os.ReadFile(filepath.Join(env.uploadDir, created.FilePath))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(data) != "attachment body" {
		t.Fatalf("stored file corrupted: %q", data)
	}

	// The attachment shows up in history with a receipt for the other member.
	receipts, err := env.store.ListReceipts(context.Background(), created.ID)
	if err != nil || len(receipts) != 1 || receipts[0].UserID != env.userID(t, bob) {
		t.Fatalf("expected one receipt for bob, got %v %+v", err, receipts)
	}
}
