package client

import (
	"sort"
	"sync"
	"time"

	"github.com/omochice/room-chat/pkg/protocol"
	"github.com/samber/lo"
)

// Reconciler folds the room's event stream into an ordered, de-duplicated
// transcript and a roster of the other participants.
type Reconciler struct {
	self   string
	render Renderer
	view   View

	mu      sync.Mutex
	lastSeq uint64
	entries []Entry
	roster  map[string]struct{}
}

// NewReconciler creates a Reconciler for the participant named self.
// A nil view discards updates.
func NewReconciler(self string, render Renderer, view View) *Reconciler {
	if view == nil {
		view = nopView{}
	}
	return &Reconciler{
		self:   self,
		render: render,
		view:   view,
		roster: make(map[string]struct{}),
	}
}

// ApplyMessage appends m unless its sequence number was already applied.
func (r *Reconciler) ApplyMessage(m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apply(m)
}

// ApplyMessages applies a batch, such as a poll result, in sequence order.
func (r *Reconciler) ApplyMessages(batch []protocol.Message) {
	sorted := append([]protocol.Message(nil), batch...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range sorted {
		r.apply(m)
	}
}

// ApplyJoin records a join notice and adds name to the roster.
func (r *Reconciler) ApplyJoin(seq uint64, name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.apply(notice(seq, protocol.JoinNotice(name), at)) {
		return
	}
	if name != r.self {
		r.roster[name] = struct{}{}
		r.view.Roster(r.names())
	}
}

// ApplyLeave records a leave notice and removes name from the roster.
func (r *Reconciler) ApplyLeave(seq uint64, name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.apply(notice(seq, protocol.LeaveNotice(name), at)) {
		return
	}
	if _, ok := r.roster[name]; ok {
		delete(r.roster, name)
		r.view.Roster(r.names())
	}
}

// ApplyRoster replaces the roster with a server snapshot.
func (r *Reconciler) ApplyRoster(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster = lo.SliceToMap(lo.Without(names, r.self), func(n string) (string, struct{}) {
		return n, struct{}{}
	})
	r.view.Roster(r.names())
}

// Notify forwards n to the view.
func (r *Reconciler) Notify(n Notice) {
	r.view.Notice(n)
}

// apply appends m and reports whether it was new. r.mu must be held.
func (r *Reconciler) apply(m protocol.Message) bool {
	if m.Seq != 0 && m.Seq <= r.lastSeq {
		return false
	}
	if m.Seq != 0 {
		r.lastSeq = m.Seq
	}

	e := Entry{
		Seq:    m.Seq,
		Kind:   EntryOther,
		Author: m.Author,
		Raw:    m.Content,
		HTML:   r.render.Render(m.Content),
		Time:   m.Time,
	}
	switch m.Author {
	case protocol.SystemAuthor:
		e.Kind = EntryNotice
	case r.self:
		e.Kind = EntrySelf
	}
	r.entries = append(r.entries, e)
	r.view.Append(e)
	return true
}

func (r *Reconciler) names() []string {
	names := lo.Keys(r.roster)
	sort.Strings(names)
	return names
}

// Transcript returns a copy of the entries applied so far.
func (r *Reconciler) Transcript() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Roster returns the sorted names of the other participants.
func (r *Reconciler) Roster() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names()
}

// LastSeq returns the highest sequence number applied.
func (r *Reconciler) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

func notice(seq uint64, text string, at time.Time) protocol.Message {
	return protocol.Message{Seq: seq, Author: protocol.SystemAuthor, Content: text, Time: at}
}
