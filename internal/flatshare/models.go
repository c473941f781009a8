// Package flatshare persists flat shares (WGs), their inhabitants, waste bins
// and the log of completed duties.
package flatshare

import "time"

// Column limits shared by validation and the schema.
const (
	MaxNameLen   = 30
	RecentDuties = 10
)

// FlatShare is a household group.
type FlatShare struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Inhabitant links a Telegram chat to exactly one flat share.
type Inhabitant struct {
	ID          int64     `db:"id"`
	ChatID      string    `db:"chat_id"`
	Name        string    `db:"name"`
	FlatShareID int64     `db:"flat_share_id"`
	CreatedAt   time.Time `db:"created_at"`
}

// GarbageBin is a sensor equipped bin owned by a flat share.
type GarbageBin struct {
	ID          int64  `db:"id"`
	SensorID    string `db:"sensor_id"`
	Name        string `db:"name"`
	IsFull      bool   `db:"is_full"`
	FlatShareID int64  `db:"flat_share_id"`
}

// Duty is an append-only record of a completed chore.
type Duty struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	CreatedAt    time.Time `db:"created_at"`
	FlatShareID  int64     `db:"flat_share_id"`
	InhabitantID int64     `db:"inhabitant_id"`
}

// BinState is one row of the bin status list.
type BinState struct {
	Full  bool   `db:"is_full"`
	Label string `db:"name"`
}

// DutyEntry is one row of the duty history.
type DutyEntry struct {
	Description string    `db:"name"`
	At          time.Time `db:"created_at"`
}
