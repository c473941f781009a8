package router

import (
	"time"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/wgbot/core/telegram"
	"github.com/m3rciful/wgbot/core/telegram/middleware"
)

// Conversation is the multi-step dialog engine fed by free text and
// attachments while a user has a dialog open.
type Conversation interface {
	InProgress(userID int64) bool
	Continue(c tele.Context) error
}

// TextOptions controls fallback behaviour outside a conversation.
type TextOptions struct {
	UnknownText       tele.HandlerFunc
	UnknownAttachment tele.HandlerFunc
}

// AttachmentEndpoints lists every non-text message kind routed to the
// conversation.
var AttachmentEndpoints = []string{
	tele.OnPhoto,
	tele.OnDocument,
	tele.OnSticker,
	tele.OnVoice,
	tele.OnVideo,
	tele.OnVideoNote,
	tele.OnAudio,
	tele.OnAnimation,
	tele.OnLocation,
	tele.OnContact,
	tele.OnVenue,
	tele.OnPoll,
	tele.OnDice,
}

// TextRoutes builds the text route and one route per attachment kind.
// An open conversation takes precedence over the fallbacks.
func TextRoutes(conv Conversation, opts TextOptions) []tg.Route {
	route := func(inDialog, fallback string, unknown tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			start := time.Now()
			if conv != nil && c.Sender() != nil && conv.InProgress(c.Sender().ID) {
				return handleWithSummary(c, inDialog, start, "", "", func() error {
					return conv.Continue(c)
				})
			}
			if unknown != nil {
				return handleWithSummary(c, fallback, start, "", "", func() error {
					return unknown(c)
				})
			}
			logHandlerSummary(c, fallback, start, "skip", "ok", nil)
			return nil
		}
	}
	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}

	text := wrap(route("dialog", "unknown_text", opts.UnknownText))
	attachment := wrap(route("dialog_attachment", "unexpected_attachment", opts.UnknownAttachment))

	routes := []tg.Route{{Endpoint: tele.OnText, Handler: text}}
	for _, ep := range AttachmentEndpoints {
		routes = append(routes, tg.Route{Endpoint: ep, Handler: attachment})
	}
	return routes
}
