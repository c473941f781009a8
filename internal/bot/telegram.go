package bot

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/wgbot/core/telegram"
	"github.com/m3rciful/wgbot/core/telegram/callbacks"
	"github.com/m3rciful/wgbot/core/telegram/commands"
	"github.com/m3rciful/wgbot/core/telegram/helpers"
	"github.com/m3rciful/wgbot/core/telegram/keyboard"
	"github.com/m3rciful/wgbot/core/telegram/router"
	"github.com/m3rciful/wgbot/internal/chat"
	"github.com/m3rciful/wgbot/internal/dialog"
)

// buttonUnique prefixes every inline button the bot sends.
const buttonUnique = "m"

var descriptions = map[string]string{
	CmdStart:                   "Start the bot",
	CmdHelp:                    "Show what the bot can do",
	string(dialog.CreateGroup): "Create a WG",
	string(dialog.JoinGroup):   "Join a WG with its id",
	string(dialog.AddBin):      "Register a garbage bin sensor",
	CmdMenu:                    "Open the WG panel",
	CmdClear:                   "Forget all stored buttons",
}

// Register adds the bot commands and the button handler to reg. Stale or
// foreign button data goes through the same handler and ends as an expired
// click.
func (b *Bot) Register(reg *tg.Registry) error {
	names := []string{CmdStart, CmdHelp}
	for _, k := range dialog.Kinds {
		names = append(names, string(k))
	}
	names = append(names, CmdMenu, CmdClear)

	for _, name := range names {
		cmd := commands.Command{
			Handler:     b.Serve,
			Description: descriptions[name],
			AdminOnly:   name == CmdClear,
		}
		if err := reg.RegisterCommand("/"+name, cmd); err != nil {
			return err
		}
	}
	if err := reg.RegisterCallback(buttonUnique, b.Serve); err != nil {
		return err
	}
	reg.SetCallbackNotFound(b.Serve)
	return nil
}

// Routes builds every Telegram route of the bot. Commands registered as
// admin only are gated when adminID is not zero.
func (b *Bot) Routes(reg *tg.Registry, adminID int64) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID:       adminID,
		OnAdminReject: b.rejectAdmin,
	})
	routes = append(routes, router.CallbackRoute(reg))
	routes = append(routes, router.TextRoutes(b, router.TextOptions{
		UnknownText:       b.Serve,
		UnknownAttachment: b.Serve,
	})...)
	return routes
}

// InProgress reports whether userID has an open dialog.
func (b *Bot) InProgress(userID int64) bool { return b.InDialog(userID) }

// Continue feeds an update to the open dialog.
func (b *Bot) Continue(c tele.Context) error { return b.Serve(c) }

// Serve classifies one update, handles it and delivers the reply.
func (b *Bot) Serve(c tele.Context) error {
	ev, ok := Classify(c)
	if !ok {
		return helpers.Answer(c, "")
	}
	reply := b.Handle(helpers.BuildContext(c), ev)
	return deliver(c, reply)
}

// SlowDown answers an update dropped by the rate limiter.
func (b *Bot) SlowDown(c tele.Context) error {
	if c.Callback() != nil {
		return helpers.Answer(c, msgSlowDown)
	}
	return helpers.SendText(c, msgSlowDown, nil)
}

func (b *Bot) rejectAdmin(c tele.Context) error {
	return helpers.SendText(c, msgAdminOnly, nil)
}

// Classify turns a Telegram update into a chat event. Updates without a
// sender or a message are not classified.
func Classify(c tele.Context) (chat.Event, bool) {
	sender := c.Sender()
	if sender == nil {
		return nil, false
	}
	u := userOf(sender, c.Chat())

	if c.Callback() != nil {
		return chat.ClickEvent{User: u, Token: callbacks.CallbackPayload(c)}, true
	}
	msg := c.Message()
	if msg == nil {
		return nil, false
	}
	if text := strings.TrimSpace(msg.Text); text != "" {
		if strings.HasPrefix(text, "/") {
			name, payload := splitCommand(text)
			return chat.CommandEvent{User: u, Name: name, Payload: payload}, true
		}
		return chat.TextEvent{User: u, Text: text}, true
	}
	return chat.AttachmentEvent{User: u, Kind: attachmentKind(msg)}, true
}

func userOf(sender *tele.User, ch *tele.Chat) chat.User {
	chatID := sender.ID
	if ch != nil {
		chatID = ch.ID
	}
	name := sender.FirstName
	if name == "" {
		name = sender.Username
	}
	return chat.UserFromIDs(sender.ID, chatID, name)
}

// splitCommand strips the slash and any @botname suffix.
func splitCommand(text string) (string, string) {
	head, payload, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(payload)
}

func attachmentKind(m *tele.Message) string {
	switch {
	case m.Photo != nil:
		return "photo"
	case m.Document != nil:
		return "document"
	case m.Sticker != nil:
		return "sticker"
	case m.Voice != nil:
		return "voice"
	case m.Video != nil:
		return "video"
	case m.VideoNote != nil:
		return "video_note"
	case m.Audio != nil:
		return "audio"
	case m.Animation != nil:
		return "animation"
	case m.Location != nil:
		return "location"
	case m.Contact != nil:
		return "contact"
	case m.Venue != nil:
		return "venue"
	case m.Poll != nil:
		return "poll"
	case m.Dice != nil:
		return "dice"
	}
	return "other"
}

// deliver puts reply on the wire. Button presses are answered exactly once:
// with the toast text or with an empty answer before the message goes out.
func deliver(c tele.Context, reply chat.Reply) error {
	if reply.Mode == chat.ModeToast {
		return helpers.Answer(c, reply.Text)
	}
	if err := helpers.Answer(c, ""); err != nil {
		return err
	}
	markup := markupOf(reply.Keyboard)
	if reply.Mode == chat.ModeEdit && c.Callback() != nil {
		return helpers.EditText(c, reply.Text, markup)
	}
	return helpers.SendText(c, reply.Text, markup)
}

func markupOf(kb [][]chat.Button) *tele.ReplyMarkup {
	rows := make([][]keyboard.InlineBtn, 0, len(kb))
	for _, row := range kb {
		r := make([]keyboard.InlineBtn, 0, len(row))
		for _, btn := range row {
			r = append(r, keyboard.InlineBtn{Text: btn.Text, Unique: buttonUnique, Data: btn.Token})
		}
		rows = append(rows, r)
	}
	return keyboard.InlineButtonsRows(rows...)
}
