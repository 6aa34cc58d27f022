package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"roomchat/internal/middleware"
)

func newTestRouter(store *memStore, userID int64) http.Handler {
	messages := NewMessageService(store, zap.NewNop())
	rooms := NewRoomService(store, messages, &recordingNotifier{}, zap.NewNop())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), userID, "alice")))
		})
	})
	NewHandler(rooms, messages, zap.NewNop()).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))

	var out map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: body %q is not JSON: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, out
}

func TestHandlerCreateGroupRoom(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")
	h := newTestRouter(store, alice)

	status, body := do(t, h, http.MethodPost, "/rooms/group", `{"groupName":"team"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %s", status, body["message"])
	}
	var room Room
	if err := json.Unmarshal(body["data"], &room); err != nil {
		t.Fatalf("unmarshal room: %v", err)
	}
	if room.Name != "team" || room.Type != GroupRoom {
		t.Errorf("room = %+v", room)
	}

	status, body = do(t, h, http.MethodGet, "/rooms/"+strconv.FormatInt(room.ID, 10)+"/messages", "")
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	var messages []Message
	if err := json.Unmarshal(body["data"], &messages); err != nil {
		t.Fatalf("unmarshal messages: %v", err)
	}
	if len(messages) != 1 || messages[0].Text != groupCreatedText {
		t.Errorf("messages = %+v", messages)
	}
}

func TestHandlerErrors(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")
	other := store.addRoom(GroupRoom, "private")
	h := newTestRouter(store, alice)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		status  int
		message string
	}{
		{"malformed body", http.MethodPost, "/rooms/group", `{"groupName":`, http.StatusBadRequest, "Invalid fields"},
		{"short group name", http.MethodPost, "/rooms/group", `{"groupName":"abc"}`, http.StatusBadRequest, "Invalid fields"},
		{"missing username", http.MethodPost, "/rooms/direct", `{}`, http.StatusBadRequest, "Invalid fields"},
		{"unknown user", http.MethodPost, "/rooms/direct", `{"username":"nobody"}`, http.StatusBadRequest, "This user does not exist"},
		{"self chat", http.MethodPost, "/rooms/direct", `{"username":"alice"}`, http.StatusBadRequest, "You cannot chat with yourself"},
		{"bad id", http.MethodGet, "/rooms/abc", "", http.StatusNotFound, ""},
		{"not a member", http.MethodGet, "/rooms/" + strconv.FormatInt(other, 10), "", http.StatusForbidden, "Forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, h, tt.method, tt.path, tt.body)
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if tt.message == "" {
				return
			}
			var msg string
			if err := json.Unmarshal(body["message"], &msg); err != nil {
				t.Fatalf("unmarshal message: %v", err)
			}
			if msg != tt.message {
				t.Errorf("message = %q, want %q", msg, tt.message)
			}
		})
	}
}
