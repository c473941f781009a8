package helpers

import (
	"context"

	"github.com/m3rciful/wgbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// Keys stored on tele.Context.
const (
	KeyContext = "wgbot.ctx"
	KeyRID     = "rid"
)

// IDs returns the update, user and chat ids of c. Missing parts are zero.
func IDs(c tele.Context) (updateID int, userID, chatID int64) {
	updateID = c.Update().ID
	if u := c.Sender(); u != nil {
		userID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		chatID = ch.ID
	}
	return updateID, userID, chatID
}

// Begin builds the logging context of the update, stores it and its rid on
// c and returns it. It replaces any context stored before.
func Begin(c tele.Context) context.Context {
	updateID, userID, chatID := IDs(c)
	rid := logger.BuildRID(updateID, chatID, userID)
	c.Set(KeyRID, rid)

	ctx := logger.WithRID(context.Background(), rid)
	ctx = logger.WithUpdateMeta(ctx, updateID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	StoreContext(c, ctx)
	return ctx
}

// StoreContext attaches ctx to c for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c != nil && ctx != nil {
		c.Set(KeyContext, ctx)
	}
}

// ContextFrom returns the context stored on c, if any.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(KeyContext).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the stored context of the update, creating it on
// first use. Everything logged for one update shares its rid and ids.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := ContextFrom(c); ok {
		return ctx
	}
	return Begin(c)
}

// WithHandler tags the update context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" {
		ctx = logger.WithHandler(ctx, handler)
		StoreContext(c, ctx)
	}
	return ctx
}
