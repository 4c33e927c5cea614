package mysql

import (
	"context"
	"time"

	"hotel_channel/internal/domain"
)

func (r *Repo) InsertLog(ctx context.Context, e domain.ChannelLogEntry) error {
	at := e.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.db.ExecContext(ctx, insertLogSQL,
		e.ID,
		e.ConnectionID,
		e.Operation,
		string(e.Direction),
		string(e.Outcome),
		valNonEmpty(domain.Truncate(e.RequestBody)),
		valNonEmpty(domain.Truncate(e.ResponseBody)),
		valStr(e.Error),
		e.Duration.Milliseconds(),
		valStr(e.CorrelationID),
		at.UTC(),
	)
	return err
}

func (r *Repo) PurgeLogs(ctx context.Context, before time.Time) (int64, error) {
	return r.purgeLoop(ctx, purgeLogsSQL, before)
}
