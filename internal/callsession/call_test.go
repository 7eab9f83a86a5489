package callsession

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentvoice/gateway/internal/logging"
	"github.com/fluentvoice/gateway/internal/memory"
)

func TestRenderMemories_MatchesScenario(t *testing.T) {
	mems := []memory.SearchResult{
		{Type: "fact", Content: "User's name is Alice"},
		{Type: "preference", Content: "Prefers short replies"},
	}
	got := RenderMemories(mems)
	want := "<memories>\n- [fact] User's name is Alice\n- [preference] Prefers short replies\n</memories>"
	assert.Equal(t, want, got)
}

func TestComposePrompt_NoMemoriesReturnsBaseOnly(t *testing.T) {
	got := ComposePrompt("base instruction", nil)
	assert.Equal(t, "base instruction", got)
}

func TestComposePrompt_WithMemoriesAppendsBlock(t *testing.T) {
	mems := []memory.SearchResult{{Type: "fact", Content: "x"}}
	got := ComposePrompt("base", mems)
	assert.True(t, strings.HasPrefix(got, "base\n\n<memories>"))
}

// fakeStore implements memory.Store with canned responses for Establish tests.
type fakeStore struct {
	memory.Store
	userID, convID string
	searchResults  []memory.SearchResult
}

func (f *fakeStore) GetOrCreateUser(ctx context.Context, phone string) (string, error) {
	return f.userID, nil
}
func (f *fakeStore) CreateConversation(ctx context.Context, userID, channel, model string) (string, error) {
	return f.convID, nil
}
func (f *fakeStore) SemanticSearch(ctx context.Context, userID, query string, k int) ([]memory.SearchResult, error) {
	return f.searchResults, nil
}

func TestEstablish_HandshakeSuccess(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "vp1", r.URL.Query().Get("voice_prompt"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x00})
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	store := &fakeStore{userID: "u1", convID: "c1", searchResults: []memory.SearchResult{{Type: "fact", Content: "Alice"}}}
	sess := New(Config{AIWebSocketBaseURL: wsURL, VoicePromptDefault: "vp1", MemoryProbeK: 10}, store, logging.NewNop())

	call, conn, err := sess.Establish(context.Background(), "415-555-0100")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "+14155550100", call.CallerE164)
	assert.Equal(t, "u1", call.UserID)
	assert.Equal(t, "c1", call.ConversationID)
	assert.Contains(t, call.TextPrompt, "<memories>")
}

func TestEstablish_HandshakeFailureOnWrongFirstByte(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0xAA})
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	store := &fakeStore{userID: "u1", convID: "c1"}
	sess := New(Config{AIWebSocketBaseURL: wsURL}, store, logging.NewNop())

	_, _, err := sess.Establish(context.Background(), "4155550100")
	assert.Error(t, err)
}
