// Package botchat — транспорт бота поверх MTProto (gotd).
//
// Апдейты диспетчера превращаются в bot.Incoming и обрабатываются каждый в своей
// горутине; ответы уходят через MessagesSendMessage / MessagesEditMessage /
// MessagesSetBotCallbackAnswer. InputPeer собеседника берётся из сущностей апдейта,
// а для уведомлений вне диалога — из peers.Manager.
package botchat

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
	"unicode/utf8"

	"telegram-smsbot/internal/domain/bot"
	"telegram-smsbot/internal/infra/logger"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

const (
	// maxMessageLen — лимит Telegram на длину текста сообщения (в символах).
	maxMessageLen = 4096
	// handlerTimeout — сколько может обрабатываться одно событие.
	handlerTimeout = 2 * time.Minute
)

// API — методы tg.Client, которые использует транспорт.
type API interface {
	MessagesSendMessage(ctx context.Context, req *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	MessagesEditMessage(ctx context.Context, req *tg.MessagesEditMessageRequest) (tg.UpdatesClass, error)
	MessagesSetBotCallbackAnswer(ctx context.Context, req *tg.MessagesSetBotCallbackAnswerRequest) (bool, error)
}

// Resolver находит InputPeer пользователя, которого нет в кэше транспорта.
type Resolver interface {
	InputUser(ctx context.Context, userID int64) (tg.InputPeerClass, error)
}

// Handler — потребитель входящих событий.
type Handler interface {
	HandleMessage(ctx context.Context, in bot.Incoming) error
	HandleCallback(ctx context.Context, in bot.Incoming) error
}

// Connection — необязательный монитор соединения.
type Connection interface {
	WaitOnline(ctx context.Context)
	HandleError(err error) bool
}

// Chat реализует bot.Chat и принимает апдейты диспетчера.
type Chat struct {
	api      API
	resolver Resolver
	conn     Connection

	peersMu sync.RWMutex
	peers   map[int64]tg.InputPeerClass

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ bot.Chat = (*Chat)(nil)

// New создаёт транспорт. resolver и conn могут быть nil.
func New(api API, resolver Resolver, conn Connection) *Chat {
	return &Chat{
		api:      api,
		resolver: resolver,
		conn:     conn,
		peers:    make(map[int64]tg.InputPeerClass),
		baseCtx:  context.Background(),
	}
}

// Start задаёт контекст, в котором выполняются обработчики событий.
func (c *Chat) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseCtx, c.cancel = context.WithCancel(ctx)
}

// Stop отменяет обработчики и ждёт их завершения.
func (c *Chat) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// Register подписывает транспорт на апдейты диспетчера.
func (c *Chat) Register(d tg.UpdateDispatcher, h Handler) {
	d.OnNewMessage(func(_ context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		in, ok := c.messageIncoming(e, u)
		if ok {
			c.dispatch("message", in, h.HandleMessage)
		}
		return nil
	})
	d.OnBotCallbackQuery(func(_ context.Context, e tg.Entities, u *tg.UpdateBotCallbackQuery) error {
		c.dispatch("callback", c.callbackIncoming(e, u), h.HandleCallback)
		return nil
	})
}

// messageIncoming берёт только входящие текстовые сообщения из личных чатов.
func (c *Chat) messageIncoming(e tg.Entities, u *tg.UpdateNewMessage) (bot.Incoming, bool) {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return bot.Incoming{}, false
	}
	peer, ok := msg.PeerID.(*tg.PeerUser)
	if !ok {
		return bot.Incoming{}, false
	}
	in := bot.Incoming{UserID: peer.UserID, MessageID: msg.ID, Text: msg.Message}
	c.fillUser(&in, e)
	return in, true
}

func (c *Chat) callbackIncoming(e tg.Entities, u *tg.UpdateBotCallbackQuery) bot.Incoming {
	in := bot.Incoming{
		UserID:    u.UserID,
		MessageID: u.MsgID,
		QueryID:   u.QueryID,
		Data:      string(u.Data),
	}
	c.fillUser(&in, e)
	return in
}

func (c *Chat) fillUser(in *bot.Incoming, e tg.Entities) {
	user, ok := e.Users[in.UserID]
	if !ok || user == nil {
		return
	}
	in.Username = user.Username
	in.FirstName = user.FirstName
	c.peersMu.Lock()
	c.peers[user.ID] = user.AsInputPeer()
	c.peersMu.Unlock()
}

// dispatch запускает обработку события в отдельной горутине.
func (c *Chat) dispatch(kind string, in bot.Incoming, fn func(context.Context, bot.Incoming) error) {
	c.mu.Lock()
	base := c.baseCtx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("update handler panic", zap.String("kind", kind), zap.Int64("user_id", in.UserID), zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(base, handlerTimeout)
		defer cancel()
		if err := fn(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("update handler failed", zap.String("kind", kind), zap.Int64("user_id", in.UserID), zap.Error(err))
		}
	}()
}

// Reply отправляет новое сообщение в личный чат пользователя.
func (c *Chat) Reply(ctx context.Context, in bot.Incoming, text string, kb bot.Keyboard) error {
	return c.send(ctx, in.UserID, text, kb)
}

// Notify пишет пользователю по id.
func (c *Chat) Notify(ctx context.Context, userID int64, text string) error {
	return c.send(ctx, userID, text, nil)
}

func (c *Chat) send(ctx context.Context, userID int64, text string, kb bot.Keyboard) error {
	peer, err := c.inputPeer(ctx, userID)
	if err != nil {
		return err
	}
	req := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   truncate(text),
		RandomID:  rand.Int64(),
		NoWebpage: true,
	}
	if len(kb) > 0 {
		req.ReplyMarkup = inlineMarkup(kb)
	}
	c.waitOnline(ctx)
	_, err = c.api.MessagesSendMessage(ctx, req)
	return c.apiErr("send message", userID, err)
}

// Edit заменяет текст и клавиатуру сообщения. Пустая kb убирает клавиатуру.
func (c *Chat) Edit(ctx context.Context, in bot.Incoming, text string, kb bot.Keyboard) error {
	peer, err := c.inputPeer(ctx, in.UserID)
	if err != nil {
		return err
	}
	req := &tg.MessagesEditMessageRequest{
		Peer:        peer,
		ID:          in.MessageID,
		Message:     truncate(text),
		NoWebpage:   true,
		ReplyMarkup: inlineMarkup(kb),
	}
	c.waitOnline(ctx)
	_, err = c.api.MessagesEditMessage(ctx, req)
	if tgerr.Is(err, "MESSAGE_NOT_MODIFIED") {
		return nil
	}
	return c.apiErr("edit message", in.UserID, err)
}

// AnswerCallback закрывает индикатор загрузки на кнопке.
func (c *Chat) AnswerCallback(ctx context.Context, in bot.Incoming, text string) error {
	if in.QueryID == 0 {
		return nil
	}
	_, err := c.api.MessagesSetBotCallbackAnswer(ctx, &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: in.QueryID,
		Message: text,
	})
	// QUERY_ID_INVALID — ответ опоздал, пользователь уже видит результат.
	if tgerr.Is(err, "QUERY_ID_INVALID") {
		return nil
	}
	return c.apiErr("answer callback", in.UserID, err)
}

func (c *Chat) inputPeer(ctx context.Context, userID int64) (tg.InputPeerClass, error) {
	c.peersMu.RLock()
	peer, ok := c.peers[userID]
	c.peersMu.RUnlock()
	if ok {
		return peer, nil
	}
	if c.resolver == nil {
		return nil, errors.New("botchat: unknown user and no resolver")
	}
	peer, err := c.resolver.InputUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.peersMu.Lock()
	c.peers[userID] = peer
	c.peersMu.Unlock()
	return peer, nil
}

func (c *Chat) waitOnline(ctx context.Context) {
	if c.conn != nil {
		c.conn.WaitOnline(ctx)
	}
}

func (c *Chat) apiErr(op string, userID int64, err error) error {
	if err == nil {
		return nil
	}
	if c.conn != nil && c.conn.HandleError(err) {
		logger.Warn("telegram call failed: connection lost", zap.String("op", op), zap.Int64("user_id", userID), zap.Error(err))
	}
	return err
}

// inlineMarkup переводит клавиатуру в inline-разметку Telegram.
func inlineMarkup(kb bot.Keyboard) *tg.ReplyInlineMarkup {
	rows := make([]tg.KeyboardButtonRow, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tg.KeyboardButtonClass, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, &tg.KeyboardButtonCallback{Text: b.Text, Data: []byte(b.Data)})
		}
		if len(buttons) > 0 {
			rows = append(rows, tg.KeyboardButtonRow{Buttons: buttons})
		}
	}
	return &tg.ReplyInlineMarkup{Rows: rows}
}

// truncate обрезает текст до лимита Telegram по границе символа.
func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageLen-1]) + "…"
}
