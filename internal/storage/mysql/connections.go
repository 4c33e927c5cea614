package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hotel_channel/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(s rowScanner) (domain.ChannelConnection, error) {
	var (
		c                  domain.ChannelConnection
		mode, status       string
		mappings, lastErr  []byte
		lsRes, lsInv, lsPr sql.NullTime
	)
	if err := s.Scan(
		&c.ID, &c.HotelID, &c.Provider, &mode, &status, &c.PropertyKey, &mappings,
		&lsRes, &lsInv, &lsPr,
		&lastErr, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return c, err
	}
	c.Mode = domain.IntegrationMode(mode)
	c.Status = domain.ConnectionStatus(status)
	c.LastSync = domain.LastSync{Reservations: nullTime(lsRes), Inventory: nullTime(lsInv), Products: nullTime(lsPr)}
	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &c.RoomMappings); err != nil {
			return c, fmt.Errorf("connection %d: room_mappings: %w", c.ID, err)
		}
	}
	if len(lastErr) > 0 {
		var se domain.SyncError
		if err := json.Unmarshal(lastErr, &se); err == nil {
			c.LastError = &se
		}
	}
	return c, nil
}

func (r *Repo) GetConnection(ctx context.Context, id int64) (domain.ChannelConnection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx, getConnectionSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChannelConnection{}, domain.ErrNotFound
	}
	return c, err
}

func (r *Repo) ListConnections(ctx context.Context, f domain.ConnectionFilter) ([]domain.ChannelConnection, error) {
	q := listConnectionsSQL
	var args []any
	if f.HotelID != nil {
		q += " AND hotel_id = ?"
		args = append(args, *f.HotelID)
	}
	if f.Provider != "" {
		q += " AND provider = ?"
		args = append(args, f.Provider)
	}
	if !f.IncludeInactive {
		q += " AND status <> 'inactive'"
	}
	q += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChannelConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) FindByPropertyKey(ctx context.Context, provider, key string) (domain.ChannelConnection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx, findByPropertyKeySQL, provider, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChannelConnection{}, domain.ErrNotFound
	}
	return c, err
}

func (r *Repo) CreateConnection(ctx context.Context, c *domain.ChannelConnection, sealed []byte) error {
	mappings, err := json.Marshal(orEmpty(c.RoomMappings))
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, insertConnectionSQL,
		c.HotelID,
		c.Provider,
		string(c.Mode),
		string(c.Status),
		c.PropertyKey,
		sealed,
		string(mappings),
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: %s property already has a live connection", domain.ErrDuplicate, c.Provider)
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// SealedCredentials feeds secrets.Store.
func (r *Repo) SealedCredentials(ctx context.Context, id int64) ([]byte, error) {
	var b []byte
	err := r.db.QueryRowContext(ctx, sealedCredentialsSQL, id).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return b, err
}

func (r *Repo) UpdateMappings(ctx context.Context, id int64, m []domain.RoomMapping) error {
	b, err := json.Marshal(orEmpty(m))
	if err != nil {
		return err
	}
	return r.execOne(ctx, updateMappingsSQL, string(b), id)
}

func (r *Repo) SetStatus(ctx context.Context, id int64, st domain.ConnectionStatus, lastErr *domain.SyncError) error {
	var b []byte
	if lastErr != nil {
		var err error
		if b, err = json.Marshal(lastErr); err != nil {
			return err
		}
	}
	err := r.execOne(ctx, setStatusSQL, string(st), valJSON(b), id)
	if isDuplicate(err) {
		return fmt.Errorf("%w: connection %d: property already has a live connection", domain.ErrDuplicate, id)
	}
	return err
}

var syncColumns = map[domain.SyncCategory]string{
	domain.SyncReservations: "last_sync_reservations",
	domain.SyncInventory:    "last_sync_inventory",
	domain.SyncProducts:     "last_sync_products",
}

func (r *Repo) MarkSynced(ctx context.Context, id int64, cat domain.SyncCategory, at time.Time) error {
	col, ok := syncColumns[cat]
	if !ok {
		return fmt.Errorf("unknown sync category %q", cat)
	}
	return r.execOne(ctx, fmt.Sprintf(markSyncedSQLFmt, col), at.UTC(), id)
}

// execOne maps "no such row" to ErrNotFound. MySQL reports 0 affected rows for
// an unchanged value too, so that case is told apart with a lookup.
func (r *Repo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	id := args[len(args)-1]
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM channel_connections WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
