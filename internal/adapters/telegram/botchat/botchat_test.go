package botchat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"telegram-smsbot/internal/domain/bot"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []*tg.MessagesSendMessageRequest
	edited  []*tg.MessagesEditMessageRequest
	answers []*tg.MessagesSetBotCallbackAnswerRequest
	editErr error
}

func (f *fakeAPI) MessagesSendMessage(_ context.Context, req *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return &tg.Updates{}, nil
}

func (f *fakeAPI) MessagesEditMessage(_ context.Context, req *tg.MessagesEditMessageRequest) (tg.UpdatesClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, req)
	return &tg.Updates{}, f.editErr
}

func (f *fakeAPI) MessagesSetBotCallbackAnswer(_ context.Context, req *tg.MessagesSetBotCallbackAnswerRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, req)
	return true, nil
}

type staticResolver map[int64]tg.InputPeerClass

func (r staticResolver) InputUser(_ context.Context, id int64) (tg.InputPeerClass, error) {
	if p, ok := r[id]; ok {
		return p, nil
	}
	return nil, assert.AnError
}

func entities(users ...*tg.User) tg.Entities {
	e := tg.Entities{Users: map[int64]*tg.User{}}
	for _, u := range users {
		e.Users[u.ID] = u
	}
	return e
}

func TestMessageIncoming(t *testing.T) {
	t.Parallel()
	c := New(&fakeAPI{}, nil, nil)
	alice := &tg.User{ID: 42, AccessHash: 99, Username: "alice", FirstName: "Alice"}

	in, ok := c.messageIncoming(entities(alice), &tg.UpdateNewMessage{Message: &tg.Message{
		ID: 7, PeerID: &tg.PeerUser{UserID: 42}, Message: "/sms +8801712345678",
	}})
	require.True(t, ok)
	assert.Equal(t, bot.Incoming{UserID: 42, Username: "alice", FirstName: "Alice", MessageID: 7, Text: "/sms +8801712345678"}, in)

	_, ok = c.messageIncoming(entities(), &tg.UpdateNewMessage{Message: &tg.Message{Out: true, PeerID: &tg.PeerUser{UserID: 42}}})
	assert.False(t, ok, "outgoing messages are ignored")

	_, ok = c.messageIncoming(entities(), &tg.UpdateNewMessage{Message: &tg.Message{PeerID: &tg.PeerChat{ChatID: 1}}})
	assert.False(t, ok, "group chats are ignored")

	_, ok = c.messageIncoming(entities(), &tg.UpdateNewMessage{Message: &tg.MessageService{}})
	assert.False(t, ok)
}

func TestReplyUsesPeerFromUpdate(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	c := New(api, nil, nil)
	alice := &tg.User{ID: 42, AccessHash: 99}

	in := c.callbackIncoming(entities(alice), &tg.UpdateBotCallbackQuery{QueryID: 5, UserID: 42, MsgID: 3, Data: []byte("k:main:+1")})
	assert.Equal(t, "k:main:+1", in.Data)
	assert.True(t, in.IsCallback())

	kb := bot.Keyboard{{{Text: "🔄 Check again", Data: "k:main:+1"}}}
	require.NoError(t, c.Reply(context.Background(), in, "hello", kb))
	require.Len(t, api.sent, 1)
	req := api.sent[0]
	assert.Equal(t, &tg.InputPeerUser{UserID: 42, AccessHash: 99}, req.Peer)
	assert.Equal(t, "hello", req.Message)
	markup, ok := req.ReplyMarkup.(*tg.ReplyInlineMarkup)
	require.True(t, ok)
	require.Len(t, markup.Rows, 1)
	btn, ok := markup.Rows[0].Buttons[0].(*tg.KeyboardButtonCallback)
	require.True(t, ok)
	assert.Equal(t, []byte("k:main:+1"), btn.Data)

	require.NoError(t, c.AnswerCallback(context.Background(), in, "Checking"))
	require.Len(t, api.answers, 1)
	assert.Equal(t, int64(5), api.answers[0].QueryID)
}

func TestNotifyFallsBackToResolver(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	c := New(api, staticResolver{7: &tg.InputPeerUser{UserID: 7, AccessHash: 1}}, nil)

	require.NoError(t, c.Notify(context.Background(), 7, "authorized"))
	require.Len(t, api.sent, 1)
	assert.Nil(t, api.sent[0].ReplyMarkup)

	assert.Error(t, c.Notify(context.Background(), 8, "unknown"))
}

func TestEditIgnoresNotModified(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{editErr: tgerr.New(400, "MESSAGE_NOT_MODIFIED")}
	c := New(api, staticResolver{42: &tg.InputPeerUser{UserID: 42}}, nil)
	in := bot.Incoming{UserID: 42, MessageID: 3, QueryID: 5}

	require.NoError(t, c.Edit(context.Background(), in, "same", nil))
	require.Len(t, api.edited, 1)
	assert.Equal(t, 3, api.edited[0].ID)
	assert.Empty(t, api.edited[0].ReplyMarkup.(*tg.ReplyInlineMarkup).Rows, "nil keyboard clears buttons")

	api.editErr = tgerr.New(400, "MESSAGE_ID_INVALID")
	assert.Error(t, c.Edit(context.Background(), in, "other", nil))
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []bot.Incoming
}

func (h *recordingHandler) HandleMessage(_ context.Context, in bot.Incoming) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, in)
	return nil
}

func (h *recordingHandler) HandleCallback(context.Context, bot.Incoming) error {
	panic("boom")
}

func TestDispatchWaitsAndRecovers(t *testing.T) {
	t.Parallel()
	c := New(&fakeAPI{}, nil, nil)
	c.Start(context.Background())
	h := &recordingHandler{}

	for i := range 5 {
		c.dispatch("message", bot.Incoming{UserID: int64(i)}, h.HandleMessage)
	}
	c.dispatch("callback", bot.Incoming{UserID: 1}, h.HandleCallback)
	c.Stop()

	assert.Len(t, h.seen, 5)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("я", maxMessageLen+10)
	got := truncate(long)
	assert.Equal(t, maxMessageLen, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, "short", truncate("short"))
}
