package mysql

// -----------------------------------------------------------------------------
// CONNECTIONS
// -----------------------------------------------------------------------------

const connectionColumns = `
  id, hotel_id, provider, mode, status, property_key, room_mappings,
  last_sync_reservations, last_sync_inventory, last_sync_products,
  last_error, created_at, updated_at`

const getConnectionSQL = `SELECT` + connectionColumns + `
FROM channel_connections
WHERE id = ?`

// filters are appended by ListConnections
const listConnectionsSQL = `SELECT` + connectionColumns + `
FROM channel_connections
WHERE 1 = 1`

// newest non-inactive wins if an operator re-created a connection
const findByPropertyKeySQL = `SELECT` + connectionColumns + `
FROM channel_connections
WHERE provider = ? AND live_property_key = ?`

const insertConnectionSQL = `
INSERT INTO channel_connections
  (hotel_id, provider, mode, status, property_key, credentials, room_mappings)
VALUES
  (?, ?, ?, ?, ?, ?, ?)
`

const sealedCredentialsSQL = `SELECT credentials FROM channel_connections WHERE id = ?`

const updateMappingsSQL = `UPDATE channel_connections SET room_mappings = ? WHERE id = ?`

const setStatusSQL = `UPDATE channel_connections SET status = ?, last_error = ? WHERE id = ?`

// column name is picked from a fixed map, never from input
const markSyncedSQLFmt = `UPDATE channel_connections SET %s = ? WHERE id = ?`

// -----------------------------------------------------------------------------
// SYNC QUEUE
// -----------------------------------------------------------------------------

// Assignments run left to right and see the row's current values, so the
// aspect union and the meal plan widening are done by the server in one statement.
const upsertQueueSQL = `
INSERT INTO sync_queue
  (hotel_id, connection_id, room_type_id, meal_plan_id, target_date, aspects,
   status, priority, max_attempts, not_before)
VALUES
  (?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?)
ON DUPLICATE KEY UPDATE
  meal_plan_id = IF(meal_plan_id <=> VALUES(meal_plan_id), meal_plan_id, NULL),
  aspects      = aspects | VALUES(aspects),
  priority     = GREATEST(priority, VALUES(priority)),
  updated_at   = CURRENT_TIMESTAMP(3)
`

// Single statement claim: the row lock taken by UPDATE makes concurrent claims disjoint.
const claimQueueSQL = `
UPDATE sync_queue
SET status = 'processing', claim_token = ?, updated_at = CURRENT_TIMESTAMP(3)
WHERE status = 'pending' AND not_before <= ?
ORDER BY priority DESC, target_date ASC, id ASC
LIMIT ?
`

const queueColumns = `
  id, hotel_id, connection_id, room_type_id, meal_plan_id, target_date, aspects,
  status, priority, attempts, max_attempts, last_error, not_before, claim_token,
  created_at, updated_at`

const claimedItemsSQL = `SELECT` + queueColumns + `
FROM sync_queue
WHERE claim_token = ? AND status = 'processing'
ORDER BY priority DESC, target_date ASC, id ASC`

const getQueueItemSQL = `SELECT` + queueColumns + `
FROM sync_queue
WHERE id = ?`

const deleteQueuePrefix = `DELETE FROM sync_queue WHERE id IN (`

const lockPendingSiblingSQL = `
SELECT id
FROM sync_queue
WHERE connection_id = ? AND room_type_id = ? AND target_date = ? AND status = 'pending'
FOR UPDATE`

const mergeIntoPendingSQL = `
UPDATE sync_queue
SET meal_plan_id = IF(meal_plan_id <=> ?, meal_plan_id, NULL),
    aspects      = aspects | ?,
    priority     = GREATEST(priority, ?),
    last_error   = ?,
    updated_at   = CURRENT_TIMESTAMP(3)
WHERE id = ?`

const deleteQueueItemSQL = `DELETE FROM sync_queue WHERE id = ?`

const reschedulePendingSQL = `
UPDATE sync_queue
SET status = 'pending', claim_token = NULL, attempts = ?, not_before = ?, last_error = ?,
    updated_at = CURRENT_TIMESTAMP(3)
WHERE id = ? AND status = 'processing'`

const markFailedSQL = `
UPDATE sync_queue
SET status = 'failed', claim_token = NULL, attempts = ?, last_error = ?,
    updated_at = CURRENT_TIMESTAMP(3)
WHERE id = ?`

const purgeFailedSQL = `DELETE FROM sync_queue WHERE status = 'failed' AND updated_at < ? LIMIT ?`

// stale processing rows: fold into an existing pending sibling, drop them, then release the rest
const staleMergeSQL = `
UPDATE sync_queue p
JOIN sync_queue s
  ON s.connection_id = p.connection_id AND s.room_type_id = p.room_type_id AND s.target_date = p.target_date
SET p.aspects      = p.aspects | s.aspects,
    p.meal_plan_id = IF(p.meal_plan_id <=> s.meal_plan_id, p.meal_plan_id, NULL)
WHERE p.status = 'pending' AND s.status = 'processing' AND s.updated_at < ?`

const staleDropSQL = `
DELETE s
FROM sync_queue s
JOIN sync_queue p
  ON p.connection_id = s.connection_id AND p.room_type_id = s.room_type_id AND p.target_date = s.target_date
WHERE s.status = 'processing' AND s.updated_at < ? AND p.status = 'pending'`

const staleReleaseSQL = `
UPDATE sync_queue
SET status = 'pending', claim_token = NULL, updated_at = CURRENT_TIMESTAMP(3)
WHERE status = 'processing' AND updated_at < ?`

// -----------------------------------------------------------------------------
// CHANNEL LOG
// -----------------------------------------------------------------------------

const insertLogSQL = `
INSERT INTO channel_logs
  (id, connection_id, operation, direction, outcome, request_body, response_body,
   error, duration_ms, correlation_id, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const purgeLogsSQL = `DELETE FROM channel_logs WHERE created_at < ? LIMIT ?`

// -----------------------------------------------------------------------------
// BOOKINGS
// -----------------------------------------------------------------------------

const bookingColumns = `
  id, booking_number, hotel_id, connection_id, external_booking_ref, status, source,
  ota, check_in, check_out, guest, rooms, currency, total_amount, change_token,
  cancellation_reason, cancelled_at`

const findBookingByRefSQL = `SELECT` + bookingColumns + `
FROM bookings
WHERE hotel_id = ? AND external_booking_ref = ?`

const insertBookingSQL = `
INSERT INTO bookings
  (booking_number, hotel_id, connection_id, external_booking_ref, status, source, ota,
   check_in, check_out, guest, rooms, currency, total_amount, change_token)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updateBookingSQL = `
UPDATE bookings
SET status = ?, ota = ?, check_in = ?, check_out = ?, guest = ?, rooms = ?,
    currency = ?, total_amount = ?, change_token = ?
WHERE id = ?`

const cancelBookingSQL = `
UPDATE bookings
SET status = 'cancelled', cancellation_reason = ?, cancelled_at = ?
WHERE id = ? AND status <> 'cancelled'`

const insertSnapshotSQL = `
INSERT INTO booking_snapshots (booking_id, reason, taken_at, payload)
VALUES (?, ?, ?, ?)
`

// -----------------------------------------------------------------------------
// LOCAL CALENDARS
// -----------------------------------------------------------------------------

const availabilitySQL = `
SELECT available, stop_sell
FROM room_inventory
WHERE hotel_id = ? AND room_type_id = ? AND day = ?`

const ratesSQL = `
SELECT prices, min_stay, closed
FROM rate_calendar
WHERE hotel_id = ? AND room_type_id = ? AND meal_plan_id = ? AND day = ?`
