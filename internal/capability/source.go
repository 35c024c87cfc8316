package capability

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmpty means the upstream answered but had nothing for the input.
	ErrEmpty = errors.New("no results")
	// ErrUnconfigured means the capability has no endpoint or credentials.
	ErrUnconfigured = errors.New("capability not configured")
)

// Source fetches the payload for one capability kind.
type Source interface {
	Kind() Kind
	Fetch(ctx context.Context, call Call) (any, error)
}

func wrongCall(want Kind, call Call) error {
	return fmt.Errorf("source %s cannot handle %T", want, call)
}
