package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the kind of a change notification
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
	All    EventType = "*"

	// Resync is emitted on every subscription after the connection was
	// re-established. Changes may have been missed while it was down.
	Resync EventType = "RESYNC"
)

// Filter selects the row changes a subscription receives
type Filter struct {
	Event  EventType `json:"event"`
	Schema string    `json:"schema"`
	Table  string    `json:"table"`
	Filter string    `json:"filter,omitempty"` // e.g. chat_id=eq.31612345678
}

// Eq builds a filter for changes on table where column equals value
func Eq(event EventType, table, column, value string) Filter {
	return Filter{Event: event, Schema: "public", Table: table, Filter: fmt.Sprintf("%s=eq.%s", column, value)}
}

// Table builds a filter for every change of event on table
func Table(event EventType, table string) Filter {
	return Filter{Event: event, Schema: "public", Table: table}
}

// Change is one row change delivered on a subscription
type Change struct {
	Type   EventType
	Table  string
	Record json.RawMessage // New row; empty for DELETE and RESYNC
	Old    json.RawMessage
	At     time.Time
}

// Decode unmarshals the new row into v
func (c Change) Decode(v any) error {
	if len(c.Record) == 0 {
		return fmt.Errorf("%s change on %q has no record", c.Type, c.Table)
	}
	return json.Unmarshal(c.Record, v)
}

type changeData struct {
	Type            EventType       `json:"type"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

func (d changeData) change() Change {
	return Change{
		Type:   d.Type,
		Table:  d.Table,
		Record: d.Record,
		Old:    d.OldRecord,
		At:     d.CommitTimestamp,
	}
}
