// Package attendance holds the day-ledger reconciliation core: the
// attendance event and record vocabulary, the day-bucket computation,
// and the reconciler that merges events into one row per user per day.
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation indicates a malformed inbound event or query.
var ErrValidation = errors.New("invalid attendance payload")

// Action is one of the three recordable event kinds.
type Action string

const (
	ActionDeparture Action = "departure"
	ActionStart     Action = "start"
	ActionEnd       Action = "end"
)

// Ledger field names. English field schema is canonical; uid, name and
// record_date together form the row's natural key.
const (
	FieldUID        = "uid"
	FieldName       = "name"
	FieldRecordDate = "record_date"
	FieldDeparture  = "departure_at"
	FieldStart      = "start_at"
	FieldEnd        = "end_at"
	FieldBreak      = "break_minutes"
	FieldLocation   = "location_info"
)

// ParseAction maps an inbound action token to an Action. Both the API
// tokens and the chat keywords (出発 / 開始 / 終了) are accepted.
func ParseAction(s string) (Action, error) {
	switch s {
	case "departure", "出発":
		return ActionDeparture, nil
	case "start", "開始":
		return ActionStart, nil
	case "end", "終了":
		return ActionEnd, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
	}
}

// TimestampField returns the ledger field holding this action's instant.
func (a Action) TimestampField() string {
	switch a {
	case ActionDeparture:
		return FieldDeparture
	case ActionStart:
		return FieldStart
	case ActionEnd:
		return FieldEnd
	}
	return ""
}

// Label returns the Japanese display label used in confirmations.
func (a Action) Label() string {
	switch a {
	case ActionDeparture:
		return "出発"
	case ActionStart:
		return "開始"
	case ActionEnd:
		return "終了"
	}
	return ""
}

// LatLng is a reported geolocation.
type LatLng struct {
	Latitude  float64
	Longitude float64
}

// String renders the location as the informational "lat, lon" ledger
// value. Lossy on purpose; the ledger field is display-only.
func (l LatLng) String() string {
	return fmt.Sprintf("%.6f, %.6f", l.Latitude, l.Longitude)
}

// Event is one reported attendance action.
type Event struct {
	UserID       string
	DisplayName  string // used only when a new day row is created
	Action       Action
	BreakMinutes int       // 0 means not provided; meaningful on End only
	Location     *LatLng   // meaningful on Start only
	OccurredAt   time.Time // zero means "use processing time"
}

// Validate checks the event for the fields the reconciler requires.
func (e Event) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if e.Action.TimestampField() == "" {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, string(e.Action))
	}
	if e.BreakMinutes < 0 {
		return fmt.Errorf("%w: breakTime must be positive", ErrValidation)
	}
	return nil
}

// NextAction is the prompt a client should show a user next.
type NextAction string

const (
	NextDeparture NextAction = "departure"
	NextStart     NextAction = "start"
	NextEnd       NextAction = "end"
	NextComplete  NextAction = "complete"
)

// DayStart returns the instant of local midnight for the civil day
// containing t under a fixed UTC offset. Two instants share a day
// bucket iff DayStart returns the same value for both; the boundary is
// exact, so 23:59:59.999 local and the following 00:00:00.000 local
// land in different buckets.
func DayStart(t time.Time, offset time.Duration) time.Time {
	loc := time.FixedZone("", int(offset/time.Second))
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
