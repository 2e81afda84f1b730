package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MaartenKnaepen/home-agent/internal/agent"
)

type recordingHandler struct {
	mu    sync.Mutex
	reqs  []*agent.Request
	reply string
}

func (h *recordingHandler) HandleTurn(ctx context.Context, req *agent.Request) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reqs = append(h.reqs, req)
	return h.reply
}

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("hello", maxMessageLen)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestSplitMessage_HardCut(t *testing.T) {
	long := strings.Repeat("a", 10)
	chunks := splitMessage(long, 4)

	var rebuilt string
	for _, c := range chunks {
		if len([]rune(c)) > 4 {
			t.Errorf("chunk exceeds limit: %q", c)
		}
		rebuilt += c
	}
	if rebuilt != long {
		t.Errorf("content lost: %q", rebuilt)
	}
}

func TestSplitMessage_PrefersNewlineBreak(t *testing.T) {
	text := strings.Repeat("x", 8) + "\n" + strings.Repeat("y", 8)
	chunks := splitMessage(text, 10)

	if len(chunks) < 2 {
		t.Fatalf("chunks = %v", chunks)
	}
	if chunks[0] != strings.Repeat("x", 8) {
		t.Errorf("first chunk = %q, want break at the newline", chunks[0])
	}
	// The newline used as a break point is consumed, not duplicated.
	if strings.HasPrefix(chunks[1], "\n") {
		t.Errorf("second chunk keeps the break newline: %q", chunks[1])
	}
}

func TestSplitMessage_MultibyteSafe(t *testing.T) {
	text := strings.Repeat("é", 9)
	chunks := splitMessage(text, 4)

	var rebuilt string
	for _, c := range chunks {
		rebuilt += c
	}
	if rebuilt != text {
		t.Errorf("multibyte content corrupted: %q", rebuilt)
	}
}

// apiCall is one recorded Bot API method invocation.
type apiCall struct {
	method string
	params map[string]string
}

// newTestBridge wires a bridge against a local fake Bot API that
// acknowledges every method and records the calls.
func newTestBridge(t *testing.T, h TurnHandler, allowed []int64) (*Bridge, *[]apiCall) {
	t.Helper()

	var (
		mu    sync.Mutex
		calls []apiCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		params := make(map[string]string)
		for k := range r.Form {
			params[k] = r.Form.Get(k)
		}
		parts := strings.Split(r.URL.Path, "/")
		mu.Lock()
		calls = append(calls, apiCall{method: parts[len(parts)-1], params: params})
		mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient("test-token", nil)
	client.baseURL = srv.URL

	bridge := NewBridge(BridgeConfig{
		Client:         client,
		Handler:        h,
		AllowedUserIDs: allowed,
	})
	return bridge, &calls
}

func TestBridge_DefaultPollTimeout(t *testing.T) {
	b, _ := newTestBridge(t, &recordingHandler{}, nil)
	if b.pollTimeout != 30 {
		t.Errorf("pollTimeout = %d, want default 30", b.pollTimeout)
	}
}

func TestBridge_AuthorizedMessageReachesHandler(t *testing.T) {
	h := &recordingHandler{reply: "hallo"}
	b, calls := newTestBridge(t, h, []int64{42})

	b.handleUpdate(context.Background(), Update{
		UpdateID: 1,
		Message: &Message{
			From: &User{ID: 42, LanguageCode: "nl"},
			Chat: Chat{ID: 42},
			Text: "hoi",
		},
	})

	if len(h.reqs) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(h.reqs))
	}
	req := h.reqs[0]
	if req.UserID != 42 || req.LocaleHint != "nl" || req.Text != "hoi" {
		t.Errorf("request = %+v", req)
	}

	// Typing indicator first, then the reply.
	var methods []string
	for _, c := range *calls {
		methods = append(methods, c.method)
	}
	if len(methods) != 2 || methods[0] != "sendChatAction" || methods[1] != "sendMessage" {
		t.Errorf("api calls = %v", methods)
	}
	if got := (*calls)[1].params["text"]; got != "hallo" {
		t.Errorf("reply text = %q", got)
	}
}

func TestBridge_UnauthorizedUserRejected(t *testing.T) {
	h := &recordingHandler{reply: "should not happen"}
	b, calls := newTestBridge(t, h, []int64{42})

	b.handleUpdate(context.Background(), Update{
		UpdateID: 1,
		Message: &Message{
			From: &User{ID: 666},
			Chat: Chat{ID: 666},
			Text: "let me in",
		},
	})

	if len(h.reqs) != 0 {
		t.Errorf("driver invoked for unauthorized user")
	}
	if len(*calls) != 1 || (*calls)[0].method != "sendMessage" {
		t.Fatalf("api calls = %v, want a single rejection send", *calls)
	}
	if got := (*calls)[0].params["text"]; got != rejectionMessage {
		t.Errorf("rejection text = %q", got)
	}
}

func TestBridge_EmptyWhitelistRejectsEveryone(t *testing.T) {
	h := &recordingHandler{}
	b, _ := newTestBridge(t, h, nil)

	b.handleUpdate(context.Background(), Update{
		UpdateID: 1,
		Message:  &Message{From: &User{ID: 1}, Chat: Chat{ID: 1}, Text: "hi"},
	})

	if len(h.reqs) != 0 {
		t.Error("empty whitelist must reject all users")
	}
}

func TestBridge_EmptyReplyNotSent(t *testing.T) {
	h := &recordingHandler{reply: ""}
	b, calls := newTestBridge(t, h, []int64{42})

	b.handleUpdate(context.Background(), Update{
		UpdateID: 1,
		Message:  &Message{From: &User{ID: 42}, Chat: Chat{ID: 42}, Text: "hi"},
	})

	for _, c := range *calls {
		if c.method == "sendMessage" {
			t.Errorf("sent a message for an empty reply: %v", c)
		}
	}
}

func TestBridge_LongReplyChunked(t *testing.T) {
	h := &recordingHandler{reply: strings.Repeat("a", maxMessageLen+100)}
	b, calls := newTestBridge(t, h, []int64{42})

	b.handleUpdate(context.Background(), Update{
		UpdateID: 1,
		Message:  &Message{From: &User{ID: 42}, Chat: Chat{ID: 42}, Text: "hi"},
	})

	var sends int
	for _, c := range *calls {
		if c.method == "sendMessage" {
			sends++
			if len([]rune(c.params["text"])) > maxMessageLen {
				t.Errorf("chunk exceeds transport limit: %d runes", len([]rune(c.params["text"])))
			}
		}
	}
	if sends != 2 {
		t.Errorf("sends = %d, want 2", sends)
	}
}

func textUpdate(id int64, userID int64, text string) Update {
	return Update{
		UpdateID: id,
		Message:  &Message{From: &User{ID: userID}, Chat: Chat{ID: userID}, Text: text},
	}
}

func TestBridge_RateLimitEnforced(t *testing.T) {
	h := &recordingHandler{reply: "ok"}
	b, _ := newTestBridge(t, h, []int64{42})
	b.rateLimit = 2

	for i := int64(1); i <= 3; i++ {
		b.handleUpdate(context.Background(), textUpdate(i, 42, "hi"))
	}

	if len(h.reqs) != 2 {
		t.Errorf("handler calls = %d, want 2 (third message over the limit)", len(h.reqs))
	}
}

func TestBridge_RateLimitIsPerSender(t *testing.T) {
	h := &recordingHandler{reply: "ok"}
	b, _ := newTestBridge(t, h, []int64{42, 43})
	b.rateLimit = 1

	b.handleUpdate(context.Background(), textUpdate(1, 42, "hi"))
	b.handleUpdate(context.Background(), textUpdate(2, 42, "again"))
	b.handleUpdate(context.Background(), textUpdate(3, 43, "hello"))

	if len(h.reqs) != 2 {
		t.Fatalf("handler calls = %d, want 2", len(h.reqs))
	}
	if h.reqs[0].UserID != 42 || h.reqs[1].UserID != 43 {
		t.Errorf("handled users = %d, %d", h.reqs[0].UserID, h.reqs[1].UserID)
	}
}

func TestBridge_RateLimitWindowSlides(t *testing.T) {
	h := &recordingHandler{reply: "ok"}
	b, _ := newTestBridge(t, h, []int64{42})
	b.rateLimit = 1

	base := time.Now()
	current := base
	b.now = func() time.Time { return current }

	b.handleUpdate(context.Background(), textUpdate(1, 42, "hi"))
	b.handleUpdate(context.Background(), textUpdate(2, 42, "too soon"))

	current = base.Add(rateWindow + time.Second)
	b.handleUpdate(context.Background(), textUpdate(3, 42, "later"))

	if len(h.reqs) != 2 {
		t.Fatalf("handler calls = %d, want 2", len(h.reqs))
	}
	if h.reqs[1].Text != "later" {
		t.Errorf("second handled message = %q, want the one after the window", h.reqs[1].Text)
	}
}

func TestBridge_RateLimitZeroIsUnlimited(t *testing.T) {
	h := &recordingHandler{reply: "ok"}
	b, _ := newTestBridge(t, h, []int64{42})

	for i := int64(1); i <= 20; i++ {
		b.handleUpdate(context.Background(), textUpdate(i, 42, "hi"))
	}

	if len(h.reqs) != 20 {
		t.Errorf("handler calls = %d, want all 20", len(h.reqs))
	}
}

func TestBridge_NonTextUpdateIgnored(t *testing.T) {
	h := &recordingHandler{}
	b, calls := newTestBridge(t, h, []int64{42})

	b.handleUpdate(context.Background(), Update{UpdateID: 1})
	b.handleUpdate(context.Background(), Update{
		UpdateID: 2,
		Message:  &Message{From: &User{ID: 42}, Chat: Chat{ID: 42}},
	})

	if len(h.reqs) != 0 {
		t.Errorf("handler called %d times for non-text updates", len(h.reqs))
	}
	if len(*calls) != 0 {
		t.Errorf("api calls = %v, want none", *calls)
	}
}
