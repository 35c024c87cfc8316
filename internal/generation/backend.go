// Package generation wraps the generative model: a bidirectional live
// stream per session plus single-shot calls for search, crop advice and
// image analysis.
package generation

import (
	"context"
	"errors"
	"iter"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
)

var (
	// ErrStreamClosed is returned by sends and receives after Close.
	ErrStreamClosed = errors.New("generation stream closed")
	// ErrUnconfigured is returned when no model credentials were supplied.
	ErrUnconfigured = errors.New("generation backend not configured")
)

// ConnectOptions configures one live stream.
type ConnectOptions struct {
	SessionID string
	Mode      domain.Mode
	Profile   domain.UserProfile
	Language  domain.Language
	// Tools the model may call mid-turn. Empty means no function calling.
	Tools []ToolSpec
}

// ToolSpec declares a function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON schema document for the arguments.
	Parameters any
}

// ToolCall is a function call requested by the model. The model waits for
// the matching ToolResponse before it continues the turn.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers one ToolCall.
type ToolResponse struct {
	ID     string
	Name   string
	Output map[string]any
}

// Backend opens live streams.
type Backend interface {
	Connect(ctx context.Context, opts ConnectOptions) (Stream, error)
}

// Unconfigured is the Backend used without credentials; every session
// fails setup with ErrUnconfigured.
type Unconfigured struct{}

// Connect implements Backend.
func (Unconfigured) Connect(context.Context, ConnectOptions) (Stream, error) {
	return nil, ErrUnconfigured
}

// Stream is one live conversation with the model. Sends and Recv may be
// called from different goroutines; Close unblocks a pending Recv.
type Stream interface {
	// SendText sends a complete user turn; the model replies to it.
	SendText(text string) error
	// SendToolResponse answers function calls of the running turn.
	SendToolResponse(responses []ToolResponse) error
	// SendAudio forwards a realtime audio chunk.
	SendAudio(chunk []byte, mimeType string) error
	// Recv blocks for the next event.
	Recv() (Event, error)
	Close() error
}

// Event is one message from the model.
type Event struct {
	Segments     []domain.Segment
	TurnComplete bool
	Interrupted  bool
	// InputTranscript is the model's transcription of user audio.
	InputTranscript string
	// OutputTranscript is the transcription of the model's own audio.
	OutputTranscript string
	ToolCalls        []ToolCall
}

// IsBoundary reports whether the event ends the model's turn.
func (e Event) IsBoundary() bool {
	return e.TurnComplete || e.Interrupted
}

// Events adapts a Stream to a range-over-func sequence that stops at the
// first error or when ctx is done.
func Events(ctx context.Context, s Stream) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				return
			}
			ev, err := s.Recv()
			if err != nil {
				if ctx.Err() == nil {
					yield(Event{}, err)
				}
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
