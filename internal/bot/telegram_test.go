package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/wgbot/core/telegram"
	"github.com/m3rciful/wgbot/internal/chat"
	"github.com/m3rciful/wgbot/internal/menu"
)

type fakeContext struct {
	tele.Context
	sender    *tele.User
	msg       *tele.Message
	cb        *tele.Callback
	store     map[string]any
	sent      []string
	edited    []string
	markups   []*tele.ReplyMarkup
	responses []*tele.CallbackResponse
}

func newFakeContext(msg *tele.Message, cb *tele.Callback) *fakeContext {
	return &fakeContext{
		sender: &tele.User{ID: alex.ID, FirstName: alex.Name},
		msg:    msg,
		cb:     cb,
		store:  map[string]any{},
	}
}

func (f *fakeContext) Update() tele.Update        { return tele.Update{ID: 1} }
func (f *fakeContext) Sender() *tele.User         { return f.sender }
func (f *fakeContext) Chat() *tele.Chat           { return &tele.Chat{ID: alex.ID} }
func (f *fakeContext) Message() *tele.Message     { return f.msg }
func (f *fakeContext) Callback() *tele.Callback   { return f.cb }
func (f *fakeContext) Get(key string) interface{} { return f.store[key] }
func (f *fakeContext) Set(key string, v interface{}) {
	f.store[key] = v
}

func (f *fakeContext) Send(what interface{}, opts ...interface{}) error {
	f.sent = append(f.sent, what.(string))
	f.markups = append(f.markups, markupIn(opts))
	return nil
}

func (f *fakeContext) Edit(what interface{}, opts ...interface{}) error {
	f.edited = append(f.edited, what.(string))
	f.markups = append(f.markups, markupIn(opts))
	return nil
}

func (f *fakeContext) Respond(resp ...*tele.CallbackResponse) error {
	var r *tele.CallbackResponse
	if len(resp) > 0 {
		r = resp[0]
	}
	f.responses = append(f.responses, r)
	return nil
}

func markupIn(opts []interface{}) *tele.ReplyMarkup {
	for _, o := range opts {
		if m, ok := o.(*tele.ReplyMarkup); ok {
			return m
		}
	}
	return nil
}

func TestClassify(t *testing.T) {
	ev, ok := Classify(newFakeContext(&tele.Message{Text: "/join_wg@WGBot 12"}, nil))
	require.True(t, ok)
	assert.Equal(t, chat.CommandEvent{User: alex, Name: "join_wg", Payload: "12"}, ev)

	ev, ok = Classify(newFakeContext(&tele.Message{Text: "  Bio "}, nil))
	require.True(t, ok)
	assert.Equal(t, chat.TextEvent{User: alex, Text: "Bio"}, ev)

	ev, ok = Classify(newFakeContext(&tele.Message{Sticker: &tele.Sticker{}}, nil))
	require.True(t, ok)
	assert.Equal(t, chat.AttachmentEvent{User: alex, Kind: "sticker"}, ev)

	ev, ok = Classify(newFakeContext(nil, &tele.Callback{Data: "\fm|abc"}))
	require.True(t, ok)
	assert.Equal(t, chat.ClickEvent{User: alex, Token: "abc"}, ev)

	ev, ok = Classify(newFakeContext(nil, &tele.Callback{Unique: "m", Data: "abc"}))
	require.True(t, ok)
	assert.Equal(t, chat.ClickEvent{User: alex, Token: "abc"}, ev)

	c := newFakeContext(&tele.Message{Text: "hi"}, nil)
	c.sender = nil
	_, ok = Classify(c)
	assert.False(t, ok)

	_, ok = Classify(newFakeContext(nil, nil))
	assert.False(t, ok)
}

func TestUserOfFallsBackToUsername(t *testing.T) {
	u := userOf(&tele.User{ID: 3, Username: "sam"}, nil)
	assert.Equal(t, chat.User{ID: 3, ChatID: "3", Name: "sam"}, u)
}

func TestServeSendsCommandReply(t *testing.T) {
	f := newFixture(t)
	c := newFakeContext(&tele.Message{Text: "/start"}, nil)
	require.NoError(t, f.bot.Serve(c))
	assert.Equal(t, []string{msgStart}, c.sent)
	assert.Empty(t, c.responses)
}

func TestServeMenuKeyboardCarriesTokens(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bot.Serve(newFakeContext(&tele.Message{Text: "/create_wg"}, nil)))
	require.NoError(t, f.bot.Serve(newFakeContext(&tele.Message{Text: "Flat"}, nil)))

	c := newFakeContext(&tele.Message{Text: "/menu"}, nil)
	require.NoError(t, f.bot.Serve(c))
	require.Len(t, c.markups, 1)
	kb := c.markups[0]
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 3)
	first := kb.InlineKeyboard[0][0]
	assert.Equal(t, buttonUnique, first.Unique)

	click := newFakeContext(nil, &tele.Callback{Data: "\f" + buttonUnique + "|" + first.Data})
	require.NoError(t, f.bot.Serve(click))
	assert.Len(t, click.responses, 1)
	assert.Equal(t, []string{"Bin statuses 🚮"}, click.edited)
}

func TestServeStaleButtonAnswersOnceAndEdits(t *testing.T) {
	f := newFixture(t)
	c := newFakeContext(nil, &tele.Callback{Data: "\fother|payload"})
	require.NoError(t, f.bot.Serve(c))
	require.Len(t, c.responses, 1)
	assert.Nil(t, c.responses[0])
	require.Len(t, c.edited, 1)
	assert.Contains(t, c.edited[0], "/menu")
	assert.Nil(t, c.markups[0])
}

func TestServeRowClickIsToast(t *testing.T) {
	f := newFixture(t)
	token, err := f.registry.Register(context.Background(), menu.Payload{Kind: menu.KindRow, Label: "Bio is full"})
	require.NoError(t, err)

	c := newFakeContext(nil, &tele.Callback{Data: "\fm|" + token})
	require.NoError(t, f.bot.Serve(c))
	require.Len(t, c.responses, 1)
	assert.Equal(t, "Bio is full", c.responses[0].Text)
	assert.Empty(t, c.edited)
	assert.Empty(t, c.sent)
}

func TestSlowDown(t *testing.T) {
	f := newFixture(t)
	msg := newFakeContext(&tele.Message{Text: "hi"}, nil)
	require.NoError(t, f.bot.SlowDown(msg))
	assert.Equal(t, []string{msgSlowDown}, msg.sent)

	cb := newFakeContext(nil, &tele.Callback{Data: "\fm|x"})
	require.NoError(t, f.bot.SlowDown(cb))
	require.Len(t, cb.responses, 1)
	assert.Equal(t, msgSlowDown, cb.responses[0].Text)
}

func TestRegisterAndRoutes(t *testing.T) {
	f := newFixture(t)
	reg := tg.NewRegistry()
	require.NoError(t, f.bot.Register(reg))

	all := reg.ListCommands(false)
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.Text
	}
	assert.Equal(t, []string{"/start", "/help", "/create_wg", "/join_wg", "/add_bin", "/menu", "/clear"}, names)
	assert.Len(t, reg.ListCommands(true), 6)

	_, ok := reg.GetCallback(buttonUnique)
	assert.True(t, ok)

	routes := f.bot.Routes(reg, 99)
	assert.Len(t, routes, len(all)+1+1+13)

	assert.Error(t, f.bot.Register(reg))
}
