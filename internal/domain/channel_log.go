package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// MaxLoggedBody caps request/response bodies stored in the audit log.
const MaxLoggedBody = 10 * 1024

// ChannelLogEntry is an immutable audit record of one protocol exchange.
type ChannelLogEntry struct {
	ID            string
	ConnectionID  int64
	Operation     string
	Direction     Direction
	Outcome       Outcome
	RequestBody   string
	ResponseBody  string
	Error         *string
	Duration      time.Duration
	CorrelationID *string
	CreatedAt     time.Time
}

// Truncate cuts s to the audit log cap. The result is always valid UTF-8:
// invalid bytes are replaced and the cut never splits a rune, since the
// log columns are utf8mb4.
func Truncate(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	if len(s) <= MaxLoggedBody {
		return s
	}
	n := MaxLoggedBody
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
