package session

import (
	"strings"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/generation"
)

// muxOutput is what one backend event produces.
type muxOutput struct {
	// frame is nil when the event carries nothing worth forwarding.
	frame []byte
	// done is the finished agent turn when the event was a boundary.
	done *domain.Turn
	// heard is the transcription of the user's audio for the finished turn.
	heard string
	// tools are function calls the model made; utterance is what had been
	// heard of the user when it made them.
	tools     []generation.ToolCall
	utterance string
}

// multiplexer maps backend events to client frames, one frame per event at
// most, and assembles the agent turn from exactly the fragments it forwards.
type multiplexer struct {
	turn          *domain.Turn
	partialSent   bool
	heard         strings.Builder
	outTranscript strings.Builder
}

func (m *multiplexer) handle(ev generation.Event) muxOutput {
	if ev.InputTranscript != "" {
		m.heard.WriteString(ev.InputTranscript)
	}
	if ev.OutputTranscript != "" {
		m.outTranscript.WriteString(ev.OutputTranscript)
	}

	if len(ev.ToolCalls) > 0 {
		return muxOutput{tools: ev.ToolCalls, utterance: strings.TrimSpace(m.heard.String())}
	}

	if ev.IsBoundary() {
		out := muxOutput{frame: boundary(ev.TurnComplete, ev.Interrupted), heard: strings.TrimSpace(m.heard.String())}
		if m.turn != nil {
			if m.turn.Text() == "" && m.outTranscript.Len() > 0 {
				// Audio replies are stored by their transcript.
				m.turn.Append(domain.TextSegment(m.outTranscript.String(), false))
			}
			m.turn.Finish(ev.Interrupted)
			out.done = m.turn
		}
		m.reset()
		return out
	}

	if len(ev.Segments) == 0 {
		return muxOutput{}
	}
	seg := ev.Segments[0]
	switch seg.Kind {
	case domain.SegmentText:
		if seg.Text == "" {
			return muxOutput{}
		}
		if !seg.Partial && m.partialSent {
			// The final text repeats what the partials already delivered.
			return muxOutput{}
		}
		if seg.Partial {
			m.partialSent = true
		}
		m.current().Append(seg)
		return muxOutput{frame: textFrame(seg.Text)}
	case domain.SegmentAudio:
		if len(seg.Audio) == 0 {
			return muxOutput{}
		}
		m.current().Append(seg)
		return muxOutput{frame: audioFrame(seg.Audio, seg.Encoding)}
	default:
		return muxOutput{}
	}
}

func (m *multiplexer) current() *domain.Turn {
	if m.turn == nil {
		m.turn = domain.NewTurn(domain.RoleAgent)
	}
	return m.turn
}

// discard drops the partially streamed turn.
func (m *multiplexer) discard() *domain.Turn {
	t := m.turn
	m.reset()
	return t
}

func (m *multiplexer) reset() {
	m.turn = nil
	m.partialSent = false
	m.heard.Reset()
	m.outTranscript.Reset()
}
