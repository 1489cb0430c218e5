package thread

import "context"

// ReadMarker records that an operator has seen inbound messages
type ReadMarker interface {
	MarkAsRead(ctx context.Context, chatID int64, messageIDs []int64) error
}

// Receipts decides which inbound messages still need a mark-as-read call. A
// message is only ever reported once per conversation.
type Receipts struct {
	marked map[int64]struct{}
}

// NewReceipts creates an empty tracker
func NewReceipts() *Receipts {
	return &Receipts{marked: make(map[int64]struct{})}
}

// Collect returns the ids of unread inbound records in recs that have not
// been reported before, and remembers them.
func (r *Receipts) Collect(recs []Record) []int64 {
	var ids []int64
	for i := range recs {
		rec := &recs[i]
		if rec.ID == 0 || !rec.IsUnread() {
			continue
		}
		if _, seen := r.marked[rec.ID]; seen {
			continue
		}
		r.marked[rec.ID] = struct{}{}
		ids = append(ids, rec.ID)
	}
	return ids
}

// Reset forgets everything reported so far
func (r *Receipts) Reset() {
	clear(r.marked)
}
