package unichat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	unichat "github.com/unichat-dev/unichat-go"
)

// helpers ---------------------------------------------------------------

func newTestClient(t *testing.T, handler http.Handler) (*unichat.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	session := unichat.NewSession("me", "Test User", "test-token")
	client := unichat.NewClient(session,
		unichat.WithBaseURL(srv.URL),
		unichat.WithLogger(zerolog.Nop()),
	)
	return client, srv
}

func writeOK(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal response data: %v", err)
	}
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": json.RawMessage(raw)})
}

func writeErr(t *testing.T, w http.ResponseWriter, code, message string) {
	t.Helper()
	json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": map[string]string{"code": code, "message": message},
	})
}

// tests -----------------------------------------------------------------

func TestClient_BearerHeader(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeOK(t, w, []unichat.Conversation{})
	}))

	if _, err := client.Conversations.List(context.Background()); err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
}

func TestClient_Unauthorized(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Conversations.List(context.Background())
	var authErr *unichat.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
}

func TestClient_EnvelopeError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(t, w, "CONV_NOT_FOUND", "no such conversation")
	}))

	_, err := client.Conversations.History(context.Background(), "c-missing")
	var apiErr *unichat.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Code != "CONV_NOT_FOUND" {
		t.Errorf("Code = %q, want CONV_NOT_FOUND", apiErr.Code)
	}
}

func TestClient_NetworkError(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := client.Conversations.List(context.Background())
	var netErr *unichat.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
	if netErr.Unwrap() == nil {
		t.Error("expected NetworkError to wrap the transport error")
	}
}

func TestClient_SendMessage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req unichat.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		writeOK(t, w, unichat.Message{
			ID:             "m-1",
			ConversationID: req.ConversationID,
			SenderID:       "me",
			Text:           req.Text,
			Kind:           req.Type,
		})
	}))

	msg, err := client.Messages.Send(context.Background(), &unichat.SendMessageRequest{
		ConversationID: "c-1",
		Text:           "hello",
		Type:           unichat.MessageText,
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if msg.ID != "m-1" || msg.Text != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
}
