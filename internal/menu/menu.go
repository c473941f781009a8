// Package menu implements the inline keyboard navigator: a root panel with
// bin statuses, duty history and quit.
package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/wgbot/core/logger"
	"github.com/m3rciful/wgbot/core/metrics"
	"github.com/m3rciful/wgbot/core/telegram/callbacks"
	"github.com/m3rciful/wgbot/core/telegram/state"
	"github.com/m3rciful/wgbot/internal/chat"
	"github.com/m3rciful/wgbot/internal/flatshare"
)

// Tag identifies a navigation button.
type Tag int

const (
	TagMainMenu Tag = iota
	TagQuit
	TagBins
	TagHistory
)

// Payload kinds.
const (
	KindNav = "nav"
	KindRow = "row"
)

// Payload is what a menu button token resolves to.
type Payload struct {
	Kind  string `json:"k"`
	Tag   Tag    `json:"t,omitempty"`
	List  string `json:"l,omitempty"`
	Index int    `json:"i,omitempty"`
	Label string `json:"x,omitempty"`
}

const (
	stateRoot state.State = "root"
	stateList state.State = "list_view"
	// terminal is never stored; a finished menu has no session.
	terminal state.State = "terminal"

	listBins    = "bins"
	listHistory = "history"

	// Telegram rejects callback answers longer than 200 characters.
	maxToastRunes = 200

	// HistoryTimeFormat renders duty timestamps in history rows.
	HistoryTimeFormat = "2006-01-02 15:04"
)

// Registry binds button payloads to tokens.
type Registry interface {
	Register(ctx context.Context, p Payload) (string, error)
	Resolve(token string) (Payload, error)
}

// Store is the read side of the flat share store used by the menu.
type Store interface {
	IsUserRegistered(ctx context.Context, chatID string) (bool, error)
	ListBinStates(ctx context.Context, chatID string) ([]flatshare.BinState, error)
	ListRecentDuties(ctx context.Context, chatID string) ([]flatshare.DutyEntry, error)
}

// Navigator renders menus and applies button presses.
type Navigator struct {
	sessions *state.Store
	registry Registry
	store    Store
}

// New builds a Navigator.
func New(sessions *state.Store, registry Registry, store Store) *Navigator {
	return &Navigator{sessions: sessions, registry: registry, store: store}
}

// Open handles the menu command: the registration gate followed by the root panel.
func (n *Navigator) Open(ctx context.Context, u chat.User) chat.Reply {
	reply := n.root(ctx, u, n.sessions.GetState(u.ID))
	reply.Mode = chat.ModeSend
	return reply
}

// Click resolves a button token and applies it to the user's menu session.
func (n *Navigator) Click(ctx context.Context, ev chat.ClickEvent) chat.Reply {
	u := ev.User
	p, err := n.registry.Resolve(ev.Token)
	if err != nil {
		return n.expired(ctx, u, err)
	}
	if p.Kind == KindRow {
		logger.Debug(ctx, "menu", "menu.row",
			slog.String("payload", p.List),
			slog.Int("index", p.Index),
		)
		return chat.Reply{Mode: chat.ModeToast, Text: toastText(p.Label)}
	}

	current := n.sessions.GetState(u.ID)
	switch {
	case current == stateRoot && p.Tag == TagBins:
		return n.list(ctx, u, listBins)
	case current == stateRoot && p.Tag == TagHistory:
		return n.list(ctx, u, listHistory)
	case current == stateList && p.Tag == TagMainMenu:
		reply := n.root(ctx, u, current)
		reply.Mode = chat.ModeEdit
		return reply
	case (current == stateRoot || current == stateList) && p.Tag == TagQuit:
		n.end(ctx, u, current)
		return chat.Reply{Mode: chat.ModeEdit, Text: msgFarewell}
	}
	if current == state.StateIdle {
		return n.expired(ctx, u, fmt.Errorf("tag %d without a menu session", p.Tag))
	}
	return n.outdated(ctx, p.Tag, current)
}

// outdated answers a press on a keyboard older than the live one. The live
// session is kept so its keyboard keeps working.
func (n *Navigator) outdated(ctx context.Context, tag Tag, current state.State) chat.Reply {
	metrics.CallbackExpired()
	logger.Info(ctx, "menu", "menu.button_outdated",
		slog.String("status", "ignored"),
		slog.Int("tag", int(tag)),
		slog.String("state", string(current)),
	)
	return chat.Reply{Mode: chat.ModeToast, Text: msgOutdated}
}

func (n *Navigator) root(ctx context.Context, u chat.User, from state.State) chat.Reply {
	registered, err := n.store.IsUserRegistered(ctx, u.ChatID)
	if err != nil {
		return n.failure(ctx, u, from, err)
	}
	if !registered {
		n.end(ctx, u, from)
		return chat.Reply{Mode: chat.ModeEdit, Text: msgNeedGroup}
	}
	kb, err := n.keyboard(ctx, nil,
		navButton{btnBins, TagBins},
		navButton{btnHistory, TagHistory},
		navButton{btnQuit, TagQuit},
	)
	if err != nil {
		return n.failure(ctx, u, from, err)
	}
	if err := n.move(ctx, u, from, stateRoot); err != nil {
		return n.failure(ctx, u, from, err)
	}
	return chat.Reply{Mode: chat.ModeEdit, Text: msgMainMenu, Keyboard: kb}
}

func (n *Navigator) list(ctx context.Context, u chat.User, which string) chat.Reply {
	var (
		title string
		rows  []string
	)
	switch which {
	case listBins:
		bins, err := n.store.ListBinStates(ctx, u.ChatID)
		if err != nil {
			return n.failure(ctx, u, stateRoot, err)
		}
		title = msgBinStatuses
		for _, b := range bins {
			rows = append(rows, binRow(b))
		}
	default:
		duties, err := n.store.ListRecentDuties(ctx, u.ChatID)
		if err != nil {
			return n.failure(ctx, u, stateRoot, err)
		}
		title = msgHistory
		for _, d := range duties {
			rows = append(rows, fmt.Sprintf("%s at %s", d.Description, d.At.Format(HistoryTimeFormat)))
		}
	}

	rowPayloads := make([]Payload, len(rows))
	for i, r := range rows {
		rowPayloads[i] = Payload{Kind: KindRow, List: which, Index: i, Label: r}
	}
	kb, err := n.keyboard(ctx, rowPayloads,
		navButton{btnMainMenu, TagMainMenu},
		navButton{btnQuit, TagQuit},
	)
	if err != nil {
		return n.failure(ctx, u, stateRoot, err)
	}
	if err := n.move(ctx, u, stateRoot, stateList); err != nil {
		return n.failure(ctx, u, stateRoot, err)
	}
	if err := n.sessions.SetTemp(ctx, u.ID, "list", which); err != nil {
		return n.failure(ctx, u, stateList, err)
	}
	return chat.Reply{Mode: chat.ModeEdit, Text: title, Keyboard: kb}
}

type navButton struct {
	text string
	tag  Tag
}

// keyboard registers one button per row followed by the navigation buttons.
func (n *Navigator) keyboard(ctx context.Context, rows []Payload, nav ...navButton) ([][]chat.Button, error) {
	kb := make([][]chat.Button, 0, len(rows)+len(nav))
	for _, p := range rows {
		token, err := n.registry.Register(ctx, p)
		if err != nil {
			return nil, err
		}
		kb = append(kb, []chat.Button{{Text: p.Label, Token: token}})
	}
	for _, b := range nav {
		token, err := n.registry.Register(ctx, Payload{Kind: KindNav, Tag: b.tag})
		if err != nil {
			return nil, err
		}
		kb = append(kb, []chat.Button{{Text: b.text, Token: token}})
	}
	return kb, nil
}

func (n *Navigator) move(ctx context.Context, u chat.User, from, to state.State) error {
	var err error
	if to == stateRoot {
		// Root always starts a fresh session so stale list data is dropped.
		_, err = n.sessions.Begin(ctx, u.ID, to)
	} else {
		err = n.sessions.SetState(ctx, u.ID, to)
	}
	if err != nil {
		return err
	}
	metrics.MenuTransition(string(from), string(to))
	logger.Debug(ctx, "menu", "menu.transition",
		slog.String("from_state", string(from)),
		slog.String("to_state", string(to)),
	)
	return nil
}

func (n *Navigator) end(ctx context.Context, u chat.User, from state.State) {
	if err := n.sessions.Clear(ctx, u.ID); err != nil {
		logger.Warn(ctx, "menu", "menu.clear_failed", slog.String("err", err.Error()))
	}
	metrics.MenuTransition(string(from), string(terminal))
}

func (n *Navigator) expired(ctx context.Context, u chat.User, cause error) chat.Reply {
	metrics.CallbackExpired()
	outcome := "expired"
	if !errors.Is(cause, callbacks.ErrInvalidCallback) {
		outcome = "cancelled"
	}
	logger.Info(ctx, "menu", "menu.button_expired",
		slog.String("status", "expired"),
		slog.String("outcome", outcome),
		slog.String("cause", cause.Error()),
	)
	n.end(ctx, u, n.sessions.GetState(u.ID))
	return chat.Reply{Mode: chat.ModeEdit, Text: msgExpired}
}

func (n *Navigator) failure(ctx context.Context, u chat.User, from state.State, err error) chat.Reply {
	text := msgFailure
	if errors.Is(err, flatshare.ErrNotFound) {
		text = msgNeedGroup
	}
	logger.Error(ctx, "menu", "menu.failed",
		slog.String("status", "fail"),
		slog.String("state", string(from)),
		slog.String("err", err.Error()),
	)
	n.end(ctx, u, from)
	return chat.Reply{Mode: chat.ModeEdit, Text: text}
}

// toastText fits s into the answerCallbackQuery text limit.
func toastText(s string) string {
	r := []rune(s)
	if len(r) <= maxToastRunes {
		return s
	}
	return string(r[:maxToastRunes-1]) + "…"
}

func binRow(b flatshare.BinState) string {
	if b.Full {
		return b.Label + " bin is full"
	}
	return b.Label + " bin is not full"
}
