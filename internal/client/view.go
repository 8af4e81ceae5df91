package client

import (
	"fmt"
	"html/template"
	"time"
)

// EntryKind distinguishes transcript lines by who produced them.
type EntryKind int

const (
	EntryOther EntryKind = iota
	EntrySelf
	EntryNotice
)

func (k EntryKind) String() string {
	switch k {
	case EntryOther:
		return "other"
	case EntrySelf:
		return "self"
	case EntryNotice:
		return "notice"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one rendered line of the transcript. Seq 0 marks a line the server
// never sequenced.
type Entry struct {
	Seq    uint64
	Kind   EntryKind
	Author string
	Raw    string
	HTML   template.HTML
	Time   time.Time
}

// NoticeKind classifies out-of-band information shown to the user.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeRateLimited
	NoticeValidation
	NoticeMalformed
	NoticeDisconnected
	NoticeError
)

// Notice is shown to the user but never stored in the transcript.
type Notice struct {
	Kind NoticeKind
	Text string
}

// View observes reconciled state. Callbacks run on the goroutine that applied the event.
type View interface {
	Append(e Entry)
	Roster(names []string)
	Notice(n Notice)
}

// Renderer turns raw message text into safe HTML.
type Renderer interface {
	Render(raw string) template.HTML
}

type nopView struct{}

func (nopView) Append(Entry)    {}
func (nopView) Roster([]string) {}
func (nopView) Notice(Notice)   {}
