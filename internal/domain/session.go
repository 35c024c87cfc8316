package domain

import (
	"strings"
	"time"
)

// Mode is the conversation modality a session was opened with.
type Mode string

const (
	ModeText  Mode = "text"
	ModeAudio Mode = "audio"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// SegmentKind distinguishes text fragments from audio fragments.
type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentAudio SegmentKind = "audio"
)

// Segment is one ordered fragment of a turn.
type Segment struct {
	Kind     SegmentKind
	Text     string
	Audio    []byte
	Encoding string // e.g. "audio/pcm"; empty for text
	Partial  bool
	At       time.Time
}

// TextSegment builds a text segment stamped with the current time.
func TextSegment(text string, partial bool) Segment {
	return Segment{Kind: SegmentText, Text: text, Partial: partial, At: time.Now()}
}

// AudioSegment builds an audio segment stamped with the current time.
func AudioSegment(data []byte, encoding string) Segment {
	return Segment{Kind: SegmentAudio, Audio: data, Encoding: encoding, At: time.Now()}
}

// Turn is one exchange unit within a session.
type Turn struct {
	Role        Role
	Segments    []Segment
	Complete    bool
	Interrupted bool
	StartedAt   time.Time
}

// NewTurn opens an empty turn for role.
func NewTurn(role Role) *Turn {
	return &Turn{Role: role, StartedAt: time.Now()}
}

// Append adds a segment. Completed turns are immutable and ignore the call.
func (t *Turn) Append(seg Segment) bool {
	if t.Complete {
		return false
	}
	t.Segments = append(t.Segments, seg)
	return true
}

// Finish marks the turn complete.
func (t *Turn) Finish(interrupted bool) {
	if t.Complete {
		return
	}
	t.Complete = true
	t.Interrupted = interrupted
}

// Text concatenates the text segments in emission order.
func (t *Turn) Text() string {
	var b strings.Builder
	for _, seg := range t.Segments {
		if seg.Kind == SegmentText {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// AudioBytes returns the total number of audio bytes carried by the turn.
func (t *Turn) AudioBytes() int {
	n := 0
	for _, seg := range t.Segments {
		n += len(seg.Audio)
	}
	return n
}

// Clone returns a deep copy so callers can read history without holding the owner's lock.
func (t *Turn) Clone() Turn {
	out := *t
	out.Segments = make([]Segment, len(t.Segments))
	copy(out.Segments, t.Segments)
	return out
}
