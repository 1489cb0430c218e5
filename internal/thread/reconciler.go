package thread

import (
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Op describes what a reconciler call did to the list
type Op int

const (
	OpNone Op = iota
	OpInserted
	OpReplaced
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpInserted:
		return "inserted"
	case OpReplaced:
		return "replaced"
	case OpRemoved:
		return "removed"
	default:
		return "none"
	}
}

// pairSkew bounds the clock difference between an optimistic record and its
// confirmed copy when they are paired by content
const pairSkew = time.Minute

// Change is the effect of one reconciler call. PrevKey is the row key before
// the call, so a renderer can find the row it has to replace or drop.
type Change struct {
	Op      Op
	Record  Record
	PrevKey string
}

// Reconciler keeps the list of records shown for one conversation. The list is
// sorted ascending by creation time and holds at most one row per message.
type Reconciler struct {
	records    []Record
	generation uint64
	newID      func() string
	now        func() time.Time
}

// NewReconciler creates an empty thread
func NewReconciler() *Reconciler {
	return &Reconciler{
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Generation identifies the current contents. It changes on every Reset, so
// asynchronous results started before a reset can be recognised and dropped.
func (r *Reconciler) Generation() uint64 {
	return r.generation
}

// Reset empties the thread and starts a new generation
func (r *Reconciler) Reset() uint64 {
	r.records = nil
	r.generation++
	return r.generation
}

// AppendOptimistic adds a locally synthesized record in pending state. It
// assigns a temporary id when the record has none.
func (r *Reconciler) AppendOptimistic(rec Record) Change {
	if rec.TempID == "" {
		rec.TempID = r.newID()
	}
	rec.ID = 0
	rec.WamID = ""
	rec.Pending = true
	rec.Failed = false
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	if idx := r.findTemp(rec.TempID); idx >= 0 {
		return Change{Op: OpNone, Record: r.records[idx]}
	}
	r.insertSorted(rec)
	return Change{Op: OpInserted, Record: rec}
}

// ApplyInsert folds a confirmed record into the thread. A record already held
// under the same key (or its optimistic copy) is replaced in place, otherwise
// the record is inserted at its position. Applying the same insert twice has
// the same effect as applying it once.
func (r *Reconciler) ApplyInsert(rec Record) Change {
	rec.TempID = ""
	rec.Pending = false
	rec.Failed = false

	idx := r.find(&rec)
	if idx < 0 {
		idx = r.findOptimistic(&rec)
	}
	if idx < 0 {
		r.insertSorted(rec)
		return Change{Op: OpInserted, Record: rec}
	}

	prev := r.records[idx]
	fillStatus(&rec.Message, &prev.Message)
	r.records[idx] = rec
	if !r.inOrder(idx) {
		r.records = slices.Delete(r.records, idx, idx+1)
		r.insertSorted(rec)
	}
	return Change{Op: OpReplaced, Record: rec, PrevKey: prev.Key()}
}

// ApplyUpdate merges delivery and read status into a held record. Updates for
// records that are not loaded are ignored.
func (r *Reconciler) ApplyUpdate(rec Record) Change {
	rec.TempID = ""
	idx := r.find(&rec)
	if idx < 0 {
		return Change{Op: OpNone}
	}
	cur := &r.records[idx]
	prevKey := cur.Key()
	mergeStatus(&cur.Message, &rec.Message)
	if cur.WamID == "" && rec.WamID != "" && r.findWam(rec.WamID) < 0 {
		cur.WamID = rec.WamID
	}
	return Change{Op: OpReplaced, Record: *cur, PrevKey: prevKey}
}

// ConfirmSend resolves an optimistic record once its send call returned. On
// success the pending flag is cleared and the provider id adopted; if the
// confirmed copy already arrived under that id, the optimistic row is dropped
// instead. A success without a provider id drops the row when a confirmed
// outbound copy with the same content arrived since it was created. On
// failure the record stays visible, marked failed.
func (r *Reconciler) ConfirmSend(tempID string, success bool, wamID string) Change {
	idx := r.findTemp(tempID)
	if idx < 0 {
		return Change{Op: OpNone}
	}
	cur := &r.records[idx]
	prevKey := cur.Key()
	cur.Pending = false
	if !success {
		cur.Failed = true
		return Change{Op: OpReplaced, Record: *cur, PrevKey: prevKey}
	}
	cur.Failed = false
	dup := -1
	switch {
	case wamID != "" && cur.WamID == "":
		dup = r.findWam(wamID)
		if dup < 0 {
			cur.WamID = wamID
		}
	case cur.WamID == "":
		dup = r.findConfirmedCopy(idx)
	}
	if dup >= 0 && dup != idx {
		removed := r.records[idx]
		r.records = slices.Delete(r.records, idx, idx+1)
		return Change{Op: OpRemoved, Record: removed, PrevKey: prevKey}
	}
	return Change{Op: OpReplaced, Record: *cur, PrevKey: prevKey}
}

// MarkRetrying puts a failed optimistic record back into pending state
func (r *Reconciler) MarkRetrying(tempID string) Change {
	idx := r.findTemp(tempID)
	if idx < 0 || !r.records[idx].Failed {
		return Change{Op: OpNone}
	}
	cur := &r.records[idx]
	prevKey := cur.Key()
	cur.Failed = false
	cur.Pending = true
	return Change{Op: OpReplaced, Record: *cur, PrevKey: prevKey}
}

// Merge folds a batch of fetched records into the thread with insert semantics
func (r *Reconciler) Merge(recs []Record) []Change {
	changes := make([]Change, 0, len(recs))
	for _, rec := range recs {
		if c := r.ApplyInsert(rec); c.Op != OpNone {
			changes = append(changes, c)
		}
	}
	return changes
}

// Prepend merges a page of older history. It returns the key of the row that
// was first before the call, which a renderer uses as its scroll anchor.
func (r *Reconciler) Prepend(recs []Record) ([]Change, string) {
	var anchor string
	if len(r.records) > 0 {
		anchor = r.records[0].Key()
	}
	return r.Merge(recs), anchor
}

// Snapshot returns a copy of the current list
func (r *Reconciler) Snapshot() []Record {
	return slices.Clone(r.records)
}

// Len returns the number of rows
func (r *Reconciler) Len() int {
	return len(r.records)
}

// Oldest returns the creation time of the first row
func (r *Reconciler) Oldest() (time.Time, bool) {
	if len(r.records) == 0 {
		return time.Time{}, false
	}
	return r.records[0].CreatedAt, true
}

// UnreadMarker returns the id of the oldest message in the trailing run of
// unread inbound messages, where the "unread messages" separator goes.
func (r *Reconciler) UnreadMarker() (int64, bool) {
	var id int64
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := &r.records[i]
		if rec.TempID != "" {
			continue
		}
		if !rec.IsUnread() {
			break
		}
		id = rec.ID
	}
	return id, id != 0
}

func (r *Reconciler) find(rec *Record) int {
	if rec.WamID != "" {
		if idx := r.findWam(rec.WamID); idx >= 0 {
			return idx
		}
	}
	if rec.ID != 0 {
		for i := len(r.records) - 1; i >= 0; i-- {
			if r.records[i].ID == rec.ID {
				return i
			}
		}
	}
	if rec.TempID != "" {
		return r.findTemp(rec.TempID)
	}
	return -1
}

func (r *Reconciler) findWam(wamID string) int {
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].WamID == wamID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) findTemp(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].TempID == tempID {
			return i
		}
	}
	return -1
}

// findOptimistic pairs a confirmed outbound record with the oldest optimistic
// record showing the same content whose send succeeded without a provider id.
// Rows still in flight are never paired.
func (r *Reconciler) findOptimistic(rec *Record) int {
	if rec.IsReceived {
		return -1
	}
	fp := fingerprint(&rec.Message.Message)
	for i := range r.records {
		cur := &r.records[i]
		if cur.optimistic() && !cur.Pending && !cur.Failed && fingerprint(&cur.Message.Message) == fp {
			return i
		}
	}
	return -1
}

// findConfirmedCopy looks for a confirmed outbound record with the same
// content as the optimistic record at idx, created no earlier than pairSkew
// before it.
func (r *Reconciler) findConfirmedCopy(idx int) int {
	opt := &r.records[idx]
	fp := fingerprint(&opt.Message.Message)
	since := opt.CreatedAt.Add(-pairSkew)
	for i := range r.records {
		cur := &r.records[i]
		if cur.TempID != "" || cur.IsReceived || cur.CreatedAt.Before(since) {
			continue
		}
		if fingerprint(&cur.Message.Message) == fp {
			return i
		}
	}
	return -1
}

func (r *Reconciler) insertSorted(rec Record) {
	i := sort.Search(len(r.records), func(i int) bool {
		return r.records[i].CreatedAt.After(rec.CreatedAt)
	})
	r.records = slices.Insert(r.records, i, rec)
}

func (r *Reconciler) inOrder(idx int) bool {
	at := r.records[idx].CreatedAt
	if idx > 0 && r.records[idx-1].CreatedAt.After(at) {
		return false
	}
	if idx < len(r.records)-1 && at.After(r.records[idx+1].CreatedAt) {
		return false
	}
	return true
}
