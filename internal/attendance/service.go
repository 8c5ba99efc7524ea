package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/osakana/kintai-bot/internal/bitable"
)

// Outcome summarizes one applied reconciliation.
type Outcome struct {
	Action   Action
	Created  bool // true when a new day row was created
	RecordID string
	DayStart time.Time
	Message  string // human-facing confirmation
}

// Status reports what a user has recorded today and what comes next.
type Status struct {
	Record     map[string]any // today's ledger fields, nil when no row exists
	RecordID   string
	NextAction NextAction
}

// Service reconciles attendance events into the day ledger.
type Service interface {
	// Reconcile merges one event into the user's row for the event's
	// civil day, creating the row on the first event of the day.
	// Find-before-write is the only duplicate guard: two concurrent
	// first events of a day can both miss the search and create two
	// rows, since the store enforces no uniqueness on (uid, day).
	Reconcile(ctx context.Context, ev Event) (*Outcome, error)

	// CurrentStatus fetches the user's row for today and derives the
	// next expected action in the fixed order departure, start, end.
	CurrentStatus(ctx context.Context, userID string) (*Status, error)
}

type reconciler struct {
	table  bitable.Client
	offset time.Duration
	now    func() time.Time
}

// NewService creates a Service over the given table client. offset is
// the fixed civil-timezone offset used for day bucketing.
func NewService(table bitable.Client, offset time.Duration) Service {
	return &reconciler{table: table, offset: offset, now: time.Now}
}

func (s *reconciler) Reconcile(ctx context.Context, ev Event) (*Outcome, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	day := DayStart(occurred, s.offset)

	rec, err := s.table.FindRecord(ctx,
		bitable.Is(FieldUID, ev.UserID),
		bitable.Is(FieldRecordDate, day.UnixMilli()),
	)
	if err != nil {
		return nil, fmt.Errorf("locating day record: %w", err)
	}

	// The patch carries only this event's fields so previously recorded
	// fields of other kinds survive the write. A repeat of the same kind
	// overwrites its own timestamp.
	fields := map[string]any{
		ev.Action.TimestampField(): occurred.UnixMilli(),
	}
	if ev.Action == ActionEnd && ev.BreakMinutes > 0 {
		fields[FieldBreak] = ev.BreakMinutes
	}
	if ev.Action == ActionStart && ev.Location != nil {
		fields[FieldLocation] = ev.Location.String()
	}

	out := &Outcome{
		Action:   ev.Action,
		DayStart: day,
		Message:  ev.Action.Label() + "時刻を記録しました。",
	}

	if rec != nil {
		if err := s.table.UpdateRecord(ctx, rec.ID, fields); err != nil {
			return nil, fmt.Errorf("updating day record: %w", err)
		}
		out.RecordID = rec.ID
		return out, nil
	}

	fields[FieldUID] = ev.UserID
	fields[FieldName] = ev.DisplayName
	fields[FieldRecordDate] = day.UnixMilli()
	id, err := s.table.CreateRecord(ctx, fields)
	if err != nil {
		return nil, fmt.Errorf("creating day record: %w", err)
	}
	out.Created = true
	out.RecordID = id
	return out, nil
}

func (s *reconciler) CurrentStatus(ctx context.Context, userID string) (*Status, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}

	day := DayStart(s.now(), s.offset)
	rec, err := s.table.FindRecord(ctx,
		bitable.Is(FieldUID, userID),
		bitable.Is(FieldRecordDate, day.UnixMilli()),
	)
	if err != nil {
		return nil, fmt.Errorf("locating day record: %w", err)
	}
	if rec == nil {
		return &Status{NextAction: NextDeparture}, nil
	}
	return &Status{
		Record:     rec.Fields,
		RecordID:   rec.ID,
		NextAction: nextAction(rec.Fields),
	}, nil
}

// nextAction derives the next prompt. A recorded End closes the day
// regardless of gaps; otherwise the fixed departure, start, end order
// points at the first missing step.
func nextAction(fields map[string]any) NextAction {
	if hasValue(fields, FieldEnd) {
		return NextComplete
	}
	switch {
	case !hasValue(fields, FieldDeparture):
		return NextDeparture
	case !hasValue(fields, FieldStart):
		return NextStart
	default:
		return NextEnd
	}
}

func hasValue(fields map[string]any, name string) bool {
	v, ok := fields[name]
	return ok && v != nil
}
