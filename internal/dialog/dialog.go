// Package dialog runs the multi-step text conversations: creating a flat
// share, joining one and registering a garbage bin.
package dialog

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/wgbot/core/logger"
	"github.com/m3rciful/wgbot/core/metrics"
	"github.com/m3rciful/wgbot/core/telegram/state"
	"github.com/m3rciful/wgbot/internal/chat"
	"github.com/m3rciful/wgbot/internal/flatshare"
)

// Kind names a dialog. The values double as the commands that start them.
type Kind string

const (
	CreateGroup Kind = "create_wg"
	JoinGroup   Kind = "join_wg"
	AddBin      Kind = "add_bin"
)

// Kinds lists every dialog in command menu order.
var Kinds = []Kind{CreateGroup, JoinGroup, AddBin}

const (
	awaitGroupName state.State = "create_wg.await_name"
	awaitGroupID   state.State = "join_wg.await_group_id"
	awaitSensorID  state.State = "add_bin.await_sensor_id"
	awaitLabel     state.State = "add_bin.await_label"

	keySensorID = "sensor_id"
)

var prompts = map[state.State]string{
	awaitGroupName: msgAskGroupName,
	awaitGroupID:   msgAskGroupID,
	awaitSensorID:  msgAskSensorID,
	awaitLabel:     msgAskLabel,
}

// Store is the subset of the flat share store the dialogs need.
type Store interface {
	IsUserRegistered(ctx context.Context, chatID string) (bool, error)
	CreateGroupWithMember(ctx context.Context, name, chatID, displayName string) (int64, error)
	AddInhabitant(ctx context.Context, chatID, displayName string, groupID int64) error
	LookupGroupForUser(ctx context.Context, chatID string) (int64, error)
	AddBin(ctx context.Context, sensorID, label string, full bool, groupID int64) error
}

// Machine drives dialogs for all users. Session state lives in the state.Store.
type Machine struct {
	sessions *state.Store
	store    Store
}

// New builds a Machine.
func New(sessions *state.Store, store Store) *Machine {
	return &Machine{sessions: sessions, store: store}
}

// IsKind reports whether name starts a dialog.
func IsKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// Active reports whether u is in the middle of a dialog.
func (m *Machine) Active(u chat.User) bool {
	return m.sessions.InProgress(u.ID)
}

// Start enters the first state of kind, overwriting any open dialog.
func (m *Machine) Start(ctx context.Context, kind Kind, u chat.User) chat.Reply {
	first := awaitGroupName
	switch kind {
	case CreateGroup:
		registered, err := m.store.IsUserRegistered(ctx, u.ChatID)
		if err != nil {
			return m.fail(ctx, kind, u, err)
		}
		if registered {
			m.finish(ctx, kind, u, "cancelled")
			return chat.Text(msgAlreadyMember)
		}
	case JoinGroup:
		first = awaitGroupID
	case AddBin:
		registered, err := m.store.IsUserRegistered(ctx, u.ChatID)
		if err != nil {
			return m.fail(ctx, kind, u, err)
		}
		if !registered {
			m.finish(ctx, kind, u, "cancelled")
			return chat.Text(msgNeedGroup)
		}
		first = awaitSensorID
	default:
		return chat.Text(msgFailure)
	}

	prev, err := m.sessions.Begin(ctx, u.ID, first)
	if err != nil {
		return m.fail(ctx, kind, u, err)
	}
	if prev != state.StateIdle {
		logger.Info(ctx, "dialog", "dialog.abandoned",
			slog.String("dialog", string(kindOf(prev))),
			slog.String("from_state", string(prev)),
			slog.String("outcome", "cancelled"),
		)
		metrics.DialogOutcome(string(kindOf(prev)), "cancelled")
	}
	logger.Debug(ctx, "dialog", "dialog.started",
		slog.String("dialog", string(kind)),
		slog.String("state", string(first)),
	)
	return chat.Text(prompts[first])
}

// Handle feeds a text or attachment event to the user's open dialog. It
// reports false when the user has no open dialog.
func (m *Machine) Handle(ctx context.Context, ev chat.Event) (chat.Reply, bool) {
	u := ev.From()
	current := m.sessions.GetState(u.ID)
	if current == state.StateIdle {
		return chat.Reply{}, false
	}
	prompt, known := prompts[current]
	if !known {
		// Written by an older build; nothing sensible can resume it.
		return m.fail(ctx, kindOf(current), u, errors.New("unknown dialog state "+string(current))), true
	}

	var text string
	switch e := ev.(type) {
	case chat.TextEvent:
		text = strings.TrimSpace(e.Text)
	default:
		return m.reprompt(ctx, u, current, msgTextOnly+" "+prompt), true
	}

	switch current {
	case awaitGroupName:
		return m.completeCreate(ctx, u, text), true
	case awaitGroupID:
		return m.completeJoin(ctx, u, text), true
	case awaitSensorID:
		if !validLen(text) {
			return m.reprompt(ctx, u, awaitSensorID, msgTooLong("sensor id", flatshare.MaxNameLen)), true
		}
		if err := m.sessions.SetTemp(ctx, u.ID, keySensorID, text); err != nil {
			return m.fail(ctx, AddBin, u, err), true
		}
		if err := m.sessions.SetState(ctx, u.ID, awaitLabel); err != nil {
			return m.fail(ctx, AddBin, u, err), true
		}
		logger.Debug(ctx, "dialog", "dialog.advanced",
			slog.String("dialog", string(AddBin)),
			slog.String("from_state", string(awaitSensorID)),
			slog.String("to_state", string(awaitLabel)),
		)
		return chat.Text(msgAskLabel), true
	default:
		return m.completeAddBin(ctx, u, text), true
	}
}

func (m *Machine) completeCreate(ctx context.Context, u chat.User, name string) chat.Reply {
	if !validLen(name) {
		return m.reprompt(ctx, u, awaitGroupName, msgTooLong("WG name", flatshare.MaxNameLen))
	}
	id, err := m.store.CreateGroupWithMember(ctx, name, u.ChatID, u.Name)
	switch {
	case errors.Is(err, flatshare.ErrAlreadyMember):
		m.finish(ctx, CreateGroup, u, "cancelled")
		return chat.Text(msgAlreadyMember)
	case err != nil:
		return m.fail(ctx, CreateGroup, u, err)
	}
	m.finish(ctx, CreateGroup, u, "ok", slog.Int64("group_id", id))
	return chat.Text(msgCreated(id))
}

func (m *Machine) completeJoin(ctx context.Context, u chat.User, raw string) chat.Reply {
	groupID, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil || groupID <= 0 {
		return m.reprompt(ctx, u, awaitGroupID, msgGroupIDNumeric)
	}
	err := m.store.AddInhabitant(ctx, u.ChatID, u.Name, groupID)
	switch {
	case errors.Is(err, flatshare.ErrNotFound):
		m.finish(ctx, JoinGroup, u, "fail", slog.Int64("group_id", groupID))
		return chat.Text(msgUnknownGroup)
	case errors.Is(err, flatshare.ErrAlreadyMember):
		m.finish(ctx, JoinGroup, u, "cancelled")
		return chat.Text(msgAlreadyMember)
	case err != nil:
		return m.fail(ctx, JoinGroup, u, err)
	}
	m.finish(ctx, JoinGroup, u, "ok", slog.Int64("group_id", groupID))
	return chat.Text(msgJoined)
}

func (m *Machine) completeAddBin(ctx context.Context, u chat.User, label string) chat.Reply {
	if !validLen(label) {
		return m.reprompt(ctx, u, awaitLabel, msgTooLong("bin name", flatshare.MaxNameLen))
	}
	sensorID, ok := m.sessions.GetTemp(u.ID, keySensorID)
	if !ok {
		return m.fail(ctx, AddBin, u, errors.New("sensor id missing from session"))
	}
	groupID, err := m.store.LookupGroupForUser(ctx, u.ChatID)
	if errors.Is(err, flatshare.ErrNotFound) {
		m.finish(ctx, AddBin, u, "fail")
		return chat.Text(msgNeedGroup)
	}
	if err == nil {
		err = m.store.AddBin(ctx, sensorID, label, false, groupID)
	}
	if err != nil {
		return m.fail(ctx, AddBin, u, err)
	}
	m.finish(ctx, AddBin, u, "ok",
		slog.Int64("group_id", groupID),
		slog.String("sensor_id", sensorID),
	)
	return chat.Text(msgBinAdded)
}

// finish discards the session and records the outcome.
// reprompt keeps the dialog in st and restarts its idle timer.
func (m *Machine) reprompt(ctx context.Context, u chat.User, st state.State, text string) chat.Reply {
	if err := m.sessions.SetState(ctx, u.ID, st); err != nil {
		return m.fail(ctx, kindOf(st), u, err)
	}
	return chat.Text(text)
}

func (m *Machine) finish(ctx context.Context, kind Kind, u chat.User, outcome string, attrs ...slog.Attr) {
	if err := m.sessions.Clear(ctx, u.ID); err != nil {
		logger.Warn(ctx, "dialog", "dialog.clear_failed",
			slog.String("dialog", string(kind)),
			slog.String("err", err.Error()),
		)
	}
	metrics.DialogOutcome(string(kind), outcome)
	attrs = append([]slog.Attr{
		slog.String("dialog", string(kind)),
		slog.String("outcome", outcome),
	}, attrs...)
	logger.Info(ctx, "dialog", "dialog.completed", attrs...)
}

func (m *Machine) fail(ctx context.Context, kind Kind, u chat.User, err error) chat.Reply {
	logger.Error(ctx, "dialog", "dialog.failed",
		slog.String("status", "fail"),
		slog.String("dialog", string(kind)),
		slog.String("err", err.Error()),
	)
	m.finish(ctx, kind, u, "fail")
	return chat.Text(msgFailure)
}

func kindOf(st state.State) Kind {
	head, _, _ := strings.Cut(string(st), ".")
	return Kind(head)
}

func validLen(s string) bool {
	n := utf8.RuneCountInString(s)
	return n > 0 && n <= flatshare.MaxNameLen
}
