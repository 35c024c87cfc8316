package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	mimeText  = "text/plain"
	mimePCM   = "audio/pcm"
	heartbeat = "ping"
)

var (
	// ErrMalformedFrame means the client sent something that is not a JSON envelope.
	ErrMalformedFrame = errors.New("malformed frame")
	errUnknownKind    = errors.New("unsupported mime_type")
	errBadAudio       = errors.New("audio data is not valid base64")
)

type inboundKind int

const (
	inboundText inboundKind = iota + 1
	inboundAudio
)

// envelope is the wire shape of data frames in both directions.
type envelope struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type boundaryFrame struct {
	TurnComplete bool `json:"turn_complete"`
	Interrupted  bool `json:"interrupted"`
}

type errorFrame struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type warningFrame struct {
	Warning string `json:"warning"`
	Message string `json:"message"`
}

type inbound struct {
	kind     inboundKind
	text     string
	audio    []byte
	mimeType string
}

// decodeInbound parses one client frame. A JSON error is returned wrapped in
// ErrMalformedFrame; a valid envelope of an unsupported kind returns errUnknownKind.
func decodeInbound(raw []byte) (inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	mime := strings.ToLower(strings.TrimSpace(env.MimeType))
	switch {
	case mime == mimeText:
		return inbound{kind: inboundText, text: env.Data, mimeType: mimeText}, nil
	case mime == mimePCM || strings.HasPrefix(mime, mimePCM+";"):
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return inbound{}, errBadAudio
		}
		return inbound{kind: inboundAudio, audio: data, mimeType: env.MimeType}, nil
	default:
		return inbound{}, fmt.Errorf("%w: %q", errUnknownKind, env.MimeType)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only fixed frame structs reach here.
		panic(err)
	}
	return b
}

func textFrame(text string) []byte {
	return mustJSON(envelope{MimeType: mimeText, Data: text})
}

func audioFrame(data []byte, mimeType string) []byte {
	if mimeType == "" {
		mimeType = mimePCM
	}
	return mustJSON(envelope{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)})
}

func boundary(turnComplete, interrupted bool) []byte {
	return mustJSON(boundaryFrame{TurnComplete: turnComplete, Interrupted: interrupted})
}

func errFrame(code, message string) []byte {
	return mustJSON(errorFrame{Error: code, Message: message})
}

func warnFrame(code, message string) []byte {
	return mustJSON(warningFrame{Warning: code, Message: message})
}
