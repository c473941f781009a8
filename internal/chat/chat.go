// Package chat holds the transport independent vocabulary shared by the
// dialog and menu machines: classified incoming events and outgoing replies.
package chat

import "strconv"

// User identifies the sender of an event.
type User struct {
	// ID keys per-user sessions.
	ID int64
	// ChatID is the external id stored on Inhabitant rows.
	ChatID string
	// Name is the display name used when registering.
	Name string
}

// UserFromIDs builds a User whose ChatID is the decimal chat id.
func UserFromIDs(userID, chatID int64, name string) User {
	return User{ID: userID, ChatID: strconv.FormatInt(chatID, 10), Name: name}
}

// Event is one classified incoming update. The set of kinds is closed.
type Event interface {
	From() User
	event()
}

// CommandEvent is a slash command without the leading slash.
type CommandEvent struct {
	User    User
	Name    string
	Payload string
}

// TextEvent is free text that is not a command.
type TextEvent struct {
	User User
	Text string
}

// AttachmentEvent is any non-text message (photo, sticker, voice...).
type AttachmentEvent struct {
	User User
	Kind string
}

// ClickEvent is an inline button press carrying a registry token.
type ClickEvent struct {
	User  User
	Token string
}

func (e CommandEvent) From() User    { return e.User }
func (e TextEvent) From() User       { return e.User }
func (e AttachmentEvent) From() User { return e.User }
func (e ClickEvent) From() User      { return e.User }

func (CommandEvent) event()    {}
func (TextEvent) event()       {}
func (AttachmentEvent) event() {}
func (ClickEvent) event()      {}

// Mode tells the transport how to deliver a reply.
type Mode int

const (
	// ModeSend posts a new message.
	ModeSend Mode = iota
	// ModeEdit rewrites the message that carried the pressed button.
	ModeEdit
	// ModeToast answers the button press with a short notification only.
	ModeToast
)

// Button is one inline button; Token is the registry token it carries.
type Button struct {
	Text  string
	Token string
}

// Reply is what a machine wants shown to the user.
type Reply struct {
	Text     string
	Keyboard [][]Button
	Mode     Mode
}

// Text builds a plain ModeSend reply.
func Text(s string) Reply { return Reply{Text: s} }
