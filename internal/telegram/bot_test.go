package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbridge/ccbridge/internal/bridge"
	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/queue"
)

// fakeAPI is a minimal Bot API server.
type fakeAPI struct {
	t *testing.T

	mu        sync.Mutex
	updates   [][]Update // served in order by getUpdates, then empty
	failFirst int        // getUpdates calls answered with HTTP 502
	polls     int
	sent      []sentMessage
	edits     []string
	commands  string
	nextID    int
	token     string
	rejectAll bool
}

type sentMessage struct {
	chat, thread, text string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{t: t, token: "123:abc", nextID: 100}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) reply(w http.ResponseWriter, result any) {
	data, err := json.Marshal(result)
	assert.NoError(f.t, err)
	fmt.Fprintf(w, `{"ok":true,"result":%s}`, data)
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	assert.NoError(f.t, r.ParseForm())
	prefix := "/bot" + f.token + "/"
	if f.rejectAll || !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch strings.TrimPrefix(r.URL.Path, prefix) {
	case "getMe":
		f.reply(w, User{ID: 1, IsBot: true, FirstName: "bridge", Username: "ccbridge_bot"})
	case "setMyCommands":
		f.commands = r.Form.Get("commands")
		f.reply(w, true)
	case "getUpdates":
		f.polls++
		if f.polls <= f.failFirst {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`)
			return
		}
		var batch []Update
		if len(f.updates) > 0 {
			batch, f.updates = f.updates[0], f.updates[1:]
		} else {
			time.Sleep(20 * time.Millisecond)
		}
		f.reply(w, batch)
	case "sendMessage":
		f.sent = append(f.sent, sentMessage{r.Form.Get("chat_id"), r.Form.Get("message_thread_id"), r.Form.Get("text")})
		f.nextID++
		f.reply(w, Message{MessageID: f.nextID, Chat: Chat{ID: 5}})
	case "editMessageText":
		text := r.Form.Get("text")
		if len(f.edits) > 0 && f.edits[len(f.edits)-1] == r.Form.Get("message_id")+":"+text {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`)
			return
		}
		f.edits = append(f.edits, r.Form.Get("message_id")+":"+text)
		f.reply(w, true)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

type handlerFunc func(ctx context.Context, in bridge.Inbound) bool

func (f handlerFunc) Handle(ctx context.Context, in bridge.Inbound) bool { return f(ctx, in) }

type healthRecorder struct {
	mu    sync.Mutex
	state []bool
}

func (h *healthRecorder) SetConnected(_ string, connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = append(h.state, connected)
}

func newTestBot(t *testing.T, srv *httptest.Server, cfg Config, h Handler, health ConnectionReporter) *Bot {
	t.Helper()
	cfg.APIURL = srv.URL
	if cfg.Token == "" {
		cfg.Token = "123:abc"
	}
	cfg.PollTimeout = time.Second
	b, err := NewBot(cfg, h, health)
	require.NoError(t, err)
	b.logger = debug.Discard()
	b.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) }
	return b
}

func textUpdate(id int, chat, user int64, text string) Update {
	return Update{UpdateID: id, Message: &Message{
		MessageID: id * 10,
		From:      &User{ID: user, FirstName: "Ada", Username: "ada"},
		Chat:      Chat{ID: chat, Type: "private"},
		Text:      text,
	}}
}

func TestRunDeliversMessagesAndReplies(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.failFirst = 2
	api.updates = [][]Update{{textUpdate(7, 42, 9, "/ask hello")}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan bridge.Inbound, 1)
	h := handlerFunc(func(ctx context.Context, in bridge.Inbound) bool {
		assert.NoError(t, in.Respond(ctx, "hi back"))
		got <- in
		return true
	})
	health := &healthRecorder{}
	b := newTestBot(t, srv, Config{Commands: []BotCommand{{Command: "ask", Description: "Ask"}}}, h, health)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	var in bridge.Inbound
	select {
	case in = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	assert.Equal(t, "telegram", in.Platform)
	assert.Equal(t, "42", in.ChannelID)
	assert.Equal(t, "9", in.UserID)
	assert.Equal(t, "ada", in.UserName)
	assert.Equal(t, "/ask hello", in.Text)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []sentMessage{{"42", "", "hi back"}}, api.sent)
	assert.Contains(t, api.commands, `"command":"ask"`)
	assert.GreaterOrEqual(t, api.polls, 3)

	health.mu.Lock()
	defer health.mu.Unlock()
	assert.Contains(t, health.state, true)
	assert.False(t, health.state[len(health.state)-1], "disconnected after Run returns")
}

func TestRunFailsOnRejectedToken(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.rejectAll = true
	b := newTestBot(t, srv, Config{}, handlerFunc(func(context.Context, bridge.Inbound) bool { return true }), nil)

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.NotContains(t, err.Error(), "123:abc")
}

func TestAllowedChats(t *testing.T) {
	_, srv := newFakeAPI(t)
	var mu sync.Mutex
	var chats []string
	h := handlerFunc(func(_ context.Context, in bridge.Inbound) bool {
		mu.Lock()
		defer mu.Unlock()
		chats = append(chats, in.ChannelID)
		return true
	})
	b := newTestBot(t, srv, Config{AllowedChats: []string{"42"}}, h, nil)
	ctx := context.Background()

	b.handleMessage(ctx, textUpdate(1, 42, 9, "/help").Message)
	b.handleMessage(ctx, textUpdate(2, 43, 9, "/help").Message)

	bot := textUpdate(3, 42, 9, "/help").Message
	bot.From.IsBot = true
	b.handleMessage(ctx, bot)
	b.handleMessage(ctx, &Message{Chat: Chat{ID: 42}, Text: "/help"})
	b.lanes.Wait()

	assert.Equal(t, []string{"42"}, chats)
}

func TestForumTopicThread(t *testing.T) {
	api, srv := newFakeAPI(t)
	var got bridge.Inbound
	h := handlerFunc(func(ctx context.Context, in bridge.Inbound) bool {
		got = in
		return in.Respond(ctx, "ok") == nil
	})
	b := newTestBot(t, srv, Config{}, h, nil)

	msg := textUpdate(1, -1001, 9, "/status").Message
	msg.MessageThreadID = 77
	b.handleMessage(context.Background(), msg)
	b.lanes.Wait()

	assert.Equal(t, "77", got.ThreadID)
	assert.Equal(t, []sentMessage{{"-1001", "77", "ok"}}, api.sent)
}

func TestRunKeepsChatOrder(t *testing.T) {
	api, srv := newFakeAPI(t)
	var batch []Update
	for i := 1; i <= 40; i++ {
		batch = append(batch, textUpdate(i, 42, 9, fmt.Sprintf("/ask %d", i)))
		if i%4 == 0 {
			batch = append(batch, textUpdate(1000+i, 43, 9, "/ask other"))
		}
	}
	api.updates = [][]Update{batch}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.New()
	var mu sync.Mutex
	var order []string
	h := handlerFunc(func(ctx context.Context, in bridge.Inbound) bool {
		if in.ChannelID != "42" {
			return true
		}
		_, err := queue.Enqueue(q, in.ChannelID, func() (struct{}, error) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, strings.TrimPrefix(in.Text, "/ask "))
			return struct{}{}, nil
		}).Wait(ctx)
		return err == nil
	})
	b := newTestBot(t, srv, Config{}, h, nil)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 40
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	want := make([]string, 40)
	for i := range want {
		want[i] = fmt.Sprint(i + 1)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order)
}

func TestAddressedMessages(t *testing.T) {
	_, srv := newFakeAPI(t)
	var mu sync.Mutex
	got := map[string]bridge.Inbound{}
	h := handlerFunc(func(_ context.Context, in bridge.Inbound) bool {
		mu.Lock()
		defer mu.Unlock()
		got[in.ChannelID] = in
		return true
	})
	b := newTestBot(t, srv, Config{}, h, nil)
	b.setSelf(User{ID: 1, IsBot: true, Username: "ccbridge_bot"})
	ctx := context.Background()

	group := func(chat int64, text string) *Message {
		m := textUpdate(int(-chat), chat, 9, text).Message
		m.Chat.Type = "supergroup"
		return m
	}

	b.handleMessage(ctx, textUpdate(1, 10, 9, "hello").Message)
	b.handleMessage(ctx, group(-11, "lunch anyone?"))
	b.handleMessage(ctx, group(-12, "@CCBridge_Bot what changed?"))
	reply := group(-13, "and the tests?")
	reply.ReplyToMessage = &Message{MessageID: 5, From: &User{ID: 1, IsBot: true}}
	b.handleMessage(ctx, reply)
	other := group(-14, "thanks")
	other.ReplyToMessage = &Message{MessageID: 6, From: &User{ID: 77}}
	b.handleMessage(ctx, other)
	b.handleMessage(ctx, group(-15, "@ccbridge_bot"))
	b.lanes.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, got["10"].Addressed, "private chat")
	assert.False(t, got["-11"].Addressed, "plain group chatter")
	assert.True(t, got["-12"].Addressed, "mention")
	assert.Equal(t, "what changed?", got["-12"].Text)
	assert.True(t, got["-13"].Addressed, "reply to the bot")
	assert.False(t, got["-14"].Addressed, "reply to someone else")
	assert.NotContains(t, got, "-15", "bare mention carries no text")
}

func TestHandleMessageAfterShutdown(t *testing.T) {
	_, srv := newFakeAPI(t)
	ran := false
	h := handlerFunc(func(context.Context, bridge.Inbound) bool {
		ran = true
		return true
	})
	b := newTestBot(t, srv, Config{}, h, nil)
	b.lanes.Close()

	b.handleMessage(context.Background(), textUpdate(1, 42, 9, "/help").Message)
	b.lanes.Wait()
	assert.False(t, ran)
}

func TestStreamUpdateEditsProgressMessage(t *testing.T) {
	api, srv := newFakeAPI(t)
	b := newTestBot(t, srv, Config{}, nil, nil)
	in := bridge.Inbound{}
	b.attachResponders(&in, 5, 0)
	ctx := context.Background()

	require.NoError(t, in.StreamUpdate(ctx, "Thinking..."))
	require.NoError(t, in.StreamUpdate(ctx, "Using tool: Read"))
	require.NoError(t, in.Respond(ctx, strings.Repeat("x", maxMessageLen+10)))

	require.Len(t, api.sent, 3, "progress plus a reply split in two")
	assert.Equal(t, "Thinking...", api.sent[0].text)
	assert.Equal(t, []string{"101:Using tool: Read"}, api.edits)
}

func TestEditNotModifiedIsIgnored(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := NewClient(srv.URL, "123:abc", time.Second)
	ctx := context.Background()
	require.NoError(t, c.EditMessageText(ctx, 5, 101, "same"))
	require.NoError(t, c.EditMessageText(ctx, 5, 101, "same"))
}

func TestAPIErrorDetails(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := NewClient(srv.URL, "123:abc", time.Second)
	err := c.call(context.Background(), "noSuchMethod", nil, nil)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Code)
	assert.Equal(t, "telegram noSuchMethod: 404 Not Found", err.Error())
}

func TestNewBotRequiresToken(t *testing.T) {
	_, err := NewBot(Config{}, nil, nil)
	assert.Error(t, err)
}
