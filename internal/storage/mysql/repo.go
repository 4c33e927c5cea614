package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"hotel_channel/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
func valNonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
func nullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}
func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

const purgeChunk = 5000

// Repo implements the storage ports on MySQL. Use Open so every session runs in UTC.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// utcSession is the session time zone every connection is pinned to.
const utcSession = "'+00:00'"

// NormalizeDSN forces parseTime, loc=UTC and a UTC session time zone.
// loc only tells the driver how to read DATETIME values; CURRENT_TIMESTAMP
// defaults are written in the session zone and compared with UTC times bound
// by the app, so both must agree whatever the server's default zone is.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["time_zone"] = utcSession
	return cfg.FormatDSN(), nil
}

// Open connects and pings with the pool sizes used by the services.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	dsn, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	return db, nil
}

func isDuplicate(err error) bool {
	var merr *gomysql.MySQLError
	return errors.As(err, &merr) && merr.Number == 1062
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// purgeLoop deletes in chunks so a large backlog does not hold one long lock.
func (r *Repo) purgeLoop(ctx context.Context, query string, before time.Time) (int64, error) {
	var total int64
	for {
		res, err := r.db.ExecContext(ctx, query, before.UTC(), purgeChunk)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
		if n < purgeChunk {
			return total, nil
		}
	}
}

func (r *Repo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

var (
	_ domain.ConnectionStore   = (*Repo)(nil)
	_ domain.QueueStore        = (*Repo)(nil)
	_ domain.ChannelLogStore   = (*Repo)(nil)
	_ domain.BookingRepository = (*Repo)(nil)
	_ domain.InventoryLookup   = (*Repo)(nil)
	_ domain.RateLookup        = (*Repo)(nil)
)
