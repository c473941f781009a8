package flatshare

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/m3rciful/wgbot/core/logger"
)

const (
	qInsertGroup      = `INSERT INTO flat_shares (name, created_at) VALUES (?, ?) RETURNING id`
	qGroupExists      = `SELECT COUNT(1) FROM flat_shares WHERE id = ?`
	qInsertInhabitant = `INSERT INTO inhabitants (chat_id, name, flat_share_id, created_at) VALUES (?, ?, ?, ?)`
	qCountInhabitant  = `SELECT COUNT(1) FROM inhabitants WHERE chat_id = ?`
	qGroupForUser     = `SELECT flat_share_id FROM inhabitants WHERE chat_id = ?`
	qInsertBin        = `INSERT INTO garbage_bins (sensor_id, name, is_full, flat_share_id) VALUES (?, ?, ?, ?)`
	qInsertDuty       = `INSERT INTO duties (name, created_at, flat_share_id, inhabitant_id)
SELECT ?, ?, i.flat_share_id, i.id FROM inhabitants i WHERE i.chat_id = ?`
	qListBins   = `SELECT is_full, name FROM garbage_bins WHERE flat_share_id = ? ORDER BY id`
	qListDuties = `SELECT name, created_at FROM duties WHERE flat_share_id = ?
ORDER BY created_at DESC, id DESC LIMIT ?`
	qToggleBins = `UPDATE garbage_bins SET is_full = NOT is_full WHERE flat_share_id = ?`
)

// Store implements the flat share data operations over sqlx. Queries are
// written with '?' placeholders and rebound for the connection's dialect.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// New wraps an open connection whose schema has been migrated.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// CreateGroup inserts a flat share and returns its id.
func (s *Store) CreateGroup(ctx context.Context, name string) (int64, error) {
	if err := checkLen("name", name); err != nil {
		return 0, storageErr("create group", err)
	}
	var id int64
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(qInsertGroup), name, s.stamp()).Scan(&id); err != nil {
		return 0, storageErr("create group", err)
	}
	logger.Info(ctx, "store", "group.created",
		slog.String("status", "ok"),
		slog.Int64("group_id", id),
	)
	return id, nil
}

// CreateGroupWithMember creates a flat share and registers its founder in one transaction.
func (s *Store) CreateGroupWithMember(ctx context.Context, name, chatID, displayName string) (int64, error) {
	if err := checkLen("name", name); err != nil {
		return 0, storageErr("create group", err)
	}
	var id int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		now := s.stamp()
		if err := tx.QueryRowxContext(ctx, tx.Rebind(qInsertGroup), name, now).Scan(&id); err != nil {
			return storageErr("create group", err)
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(qInsertInhabitant), chatID, truncate(displayName), id, now)
		return s.classifyInsert("add inhabitant", err)
	})
	if err != nil {
		return 0, err
	}
	logger.Info(ctx, "store", "group.created",
		slog.String("status", "ok"),
		slog.Int64("group_id", id),
	)
	return id, nil
}

// AddInhabitant joins chatID to an existing flat share.
func (s *Store) AddInhabitant(ctx context.Context, chatID, displayName string, groupID int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := groupExists(ctx, tx, groupID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(qInsertInhabitant), chatID, truncate(displayName), groupID, s.stamp())
		return s.classifyInsert("add inhabitant", err)
	})
}

// IsUserRegistered reports whether chatID belongs to any flat share.
func (s *Store) IsUserRegistered(ctx context.Context, chatID string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(qCountInhabitant), chatID); err != nil {
		return false, storageErr("is registered", err)
	}
	return n > 0, nil
}

// LookupGroupForUser returns the flat share id of chatID.
func (s *Store) LookupGroupForUser(ctx context.Context, chatID string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, s.db.Rebind(qGroupForUser), chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, notFound("user", chatID)
	case err != nil:
		return 0, storageErr("lookup group", err)
	}
	return id, nil
}

// AddBin registers a garbage bin for groupID.
func (s *Store) AddBin(ctx context.Context, sensorID, label string, full bool, groupID int64) error {
	if err := checkLen("sensor id", sensorID); err != nil {
		return storageErr("add bin", err)
	}
	if err := checkLen("label", label); err != nil {
		return storageErr("add bin", err)
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := groupExists(ctx, tx, groupID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(qInsertBin), sensorID, label, full, groupID); err != nil {
			return storageErr("add bin", err)
		}
		return nil
	})
}

// RecordCompletedDuty appends a duty for the group of chatID stamped with the current time.
func (s *Store) RecordCompletedDuty(ctx context.Context, chatID, description string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(qInsertDuty), description, s.stamp(), chatID)
	if err != nil {
		return storageErr("record duty", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("record duty", err)
	}
	if n == 0 {
		return notFound("user", chatID)
	}
	return nil
}

// ListBinStates returns the bins of chatID's flat share in insertion order.
func (s *Store) ListBinStates(ctx context.Context, chatID string) ([]BinState, error) {
	groupID, err := s.LookupGroupForUser(ctx, chatID)
	if err != nil {
		return nil, err
	}
	bins := []BinState{}
	if err := s.db.SelectContext(ctx, &bins, s.db.Rebind(qListBins), groupID); err != nil {
		return nil, storageErr("list bins", err)
	}
	return bins, nil
}

// ListRecentDuties returns at most RecentDuties entries, newest first.
func (s *Store) ListRecentDuties(ctx context.Context, chatID string) ([]DutyEntry, error) {
	groupID, err := s.LookupGroupForUser(ctx, chatID)
	if err != nil {
		return nil, err
	}
	duties := []DutyEntry{}
	if err := s.db.SelectContext(ctx, &duties, s.db.Rebind(qListDuties), groupID, RecentDuties); err != nil {
		return nil, storageErr("list duties", err)
	}
	return duties, nil
}

// ToggleAllBins flips the full flag of every bin of groupID and returns how many changed.
func (s *Store) ToggleAllBins(ctx context.Context, groupID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(qToggleBins), groupID)
	if err != nil {
		return 0, storageErr("toggle bins", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("toggle bins", err)
	}
	logger.Info(ctx, "store", "bins.toggled",
		slog.String("status", "ok"),
		slog.Int64("group_id", groupID),
		slog.Int64("count", n),
	)
	return n, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (s *Store) classifyInsert(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return ErrAlreadyMember
	default:
		return storageErr(op, err)
	}
}

func groupExists(ctx context.Context, tx *sqlx.Tx, groupID int64) error {
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(qGroupExists), groupID); err != nil {
		return storageErr("lookup group", err)
	}
	if n == 0 {
		return notFound("flat share", groupID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}

func checkLen(field, v string) error {
	if n := utf8.RuneCountInString(v); n == 0 || n > MaxNameLen {
		return fmt.Errorf("%s must be 1-%d characters, got %d", field, MaxNameLen, n)
	}
	return nil
}

func truncate(name string) string {
	if utf8.RuneCountInString(name) <= MaxNameLen {
		return name
	}
	return string([]rune(name)[:MaxNameLen])
}
