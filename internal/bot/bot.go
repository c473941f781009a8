// Package bot is the dispatch front-end: it routes classified chat events to
// the dialog machine and the menu navigator, and adapts their replies onto
// the Telegram transport.
package bot

import (
	"context"
	"log/slog"

	"github.com/m3rciful/wgbot/core/logger"
	"github.com/m3rciful/wgbot/internal/chat"
	"github.com/m3rciful/wgbot/internal/dialog"
	"github.com/m3rciful/wgbot/internal/menu"
)

// Command names served by the bot.
const (
	CmdStart = "start"
	CmdHelp  = "help"
	CmdClear = "clear"
	CmdMenu  = "menu"
)

// Clearer empties the callback registry.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Bot routes events. It holds no per-user state of its own.
type Bot struct {
	dialogs   *dialog.Machine
	menus     *menu.Navigator
	callbacks Clearer
}

// New builds a Bot.
func New(dialogs *dialog.Machine, menus *menu.Navigator, callbacks Clearer) *Bot {
	return &Bot{dialogs: dialogs, menus: menus, callbacks: callbacks}
}

// Handle produces the reply for one event.
func (b *Bot) Handle(ctx context.Context, ev chat.Event) chat.Reply {
	switch e := ev.(type) {
	case chat.CommandEvent:
		return b.command(ctx, e)
	case chat.ClickEvent:
		return b.menus.Click(ctx, e)
	case chat.TextEvent, chat.AttachmentEvent:
		if reply, ok := b.dialogs.Handle(ctx, ev); ok {
			return reply
		}
		return chat.Text(msgHint)
	}
	return chat.Text(msgHint)
}

// InDialog reports whether the user has an open dialog.
func (b *Bot) InDialog(userID int64) bool {
	return b.dialogs.Active(chat.User{ID: userID})
}

func (b *Bot) command(ctx context.Context, e chat.CommandEvent) chat.Reply {
	if kind, ok := dialog.IsKind(e.Name); ok {
		return b.dialogs.Start(ctx, kind, e.User)
	}
	switch e.Name {
	case CmdStart:
		return chat.Text(msgStart)
	case CmdHelp:
		return chat.Text(msgHelp)
	case CmdMenu:
		return b.menus.Open(ctx, e.User)
	case CmdClear:
		if err := b.callbacks.Clear(ctx); err != nil {
			logger.Error(ctx, "callbacks", "callbacks.clear_failed", slog.String("err", err.Error()))
			return chat.Text(msgClearFailed)
		}
		logger.Info(ctx, "callbacks", "callbacks.cleared", slog.String("status", "ok"))
		return chat.Text(msgCleared)
	}
	return chat.Text(msgUnknownCommand)
}
