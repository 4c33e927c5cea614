package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"hotel_channel/internal/domain"
)

func scanQueueItem(s rowScanner) (domain.PendingSyncItem, error) {
	var (
		it       domain.PendingSyncItem
		mealPlan sql.NullInt64
		aspects  uint8
		status   string
		lastErr  sql.NullString
		claim    sql.NullString
	)
	if err := s.Scan(
		&it.ID, &it.HotelID, &it.ConnectionID, &it.RoomTypeID, &mealPlan, &it.TargetDate, &aspects,
		&status, &it.Priority, &it.Attempts, &it.MaxAttempts, &lastErr, &it.NotBefore, &claim,
		&it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return it, err
	}
	it.MealPlanID = nullInt64(mealPlan)
	it.TargetDate = domain.Day(it.TargetDate)
	it.Aspects = domain.SyncAspect(aspects)
	it.Status = domain.ItemStatus(status)
	it.LastError = nullStr(lastErr)
	it.ClaimToken = nullStr(claim)
	return it, nil
}

func (r *Repo) Upsert(ctx context.Context, it domain.PendingSyncItem) error {
	maxAttempts := it.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	notBefore := it.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now()
	}
	_, err := r.db.ExecContext(ctx, upsertQueueSQL,
		it.HotelID,
		it.ConnectionID,
		it.RoomTypeID,
		valInt64(it.MealPlanID),
		domain.Day(it.TargetDate),
		uint8(it.Aspects),
		it.Priority,
		maxAttempts,
		notBefore.UTC(),
	)
	return err
}

func (r *Repo) Claim(ctx context.Context, now time.Time, limit int) (domain.ClaimedBatch, error) {
	token := uuid.NewString()
	res, err := r.db.ExecContext(ctx, claimQueueSQL, token, now.UTC(), limit)
	if err != nil {
		return domain.ClaimedBatch{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ClaimedBatch{Token: token}, nil
	}

	rows, err := r.db.QueryContext(ctx, claimedItemsSQL, token)
	if err != nil {
		return domain.ClaimedBatch{}, err
	}
	defer rows.Close()

	batch := domain.ClaimedBatch{Token: token}
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return domain.ClaimedBatch{}, err
		}
		batch.Items = append(batch.Items, it)
	}
	return batch, rows.Err()
}

// GetItem is used by tooling and tests.
func (r *Repo) GetItem(ctx context.Context, id int64) (domain.PendingSyncItem, error) {
	it, err := scanQueueItem(r.db.QueryRowContext(ctx, getQueueItemSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingSyncItem{}, domain.ErrNotFound
	}
	return it, err
}

func (r *Repo) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := r.db.ExecContext(ctx, deleteQueuePrefix+placeholders(len(ids))+")", args...)
	return err
}

// Reschedule puts a claimed item back to pending. If a newer pending item for the
// same cell was enqueued meanwhile, the claimed one is folded into it instead.
func (r *Repo) Reschedule(ctx context.Context, it domain.PendingSyncItem, attempts int, notBefore time.Time, lastErr string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var siblingID int64
		err := tx.QueryRowContext(ctx, lockPendingSiblingSQL, it.ConnectionID, it.RoomTypeID, domain.Day(it.TargetDate)).Scan(&siblingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, reschedulePendingSQL, attempts, notBefore.UTC(), valNonEmpty(lastErr), it.ID)
			return err
		case err != nil:
			return err
		}
		if _, err := tx.ExecContext(ctx, mergeIntoPendingSQL,
			valInt64(it.MealPlanID), uint8(it.Aspects), it.Priority, valNonEmpty(lastErr), siblingID,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, deleteQueueItemSQL, it.ID)
		return err
	})
}

func (r *Repo) MarkFailed(ctx context.Context, id int64, attempts int, lastErr string) error {
	_, err := r.db.ExecContext(ctx, markFailedSQL, attempts, valNonEmpty(lastErr), id)
	return err
}

func (r *Repo) PurgeFailed(ctx context.Context, before time.Time) (int64, error) {
	return r.purgeLoop(ctx, purgeFailedSQL, before)
}

func (r *Repo) RecoverStale(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		at := before.UTC()
		if _, err := tx.ExecContext(ctx, staleMergeSQL, at); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, staleDropSQL, at)
		if err != nil {
			return err
		}
		dropped, _ := res.RowsAffected()
		if res, err = tx.ExecContext(ctx, staleReleaseSQL, at); err != nil {
			return err
		}
		released, _ := res.RowsAffected()
		n = dropped + released
		return nil
	})
	return n, err
}
