package session

import (
	"errors"
	"fmt"
)

// ErrInvalidMode is returned for a mode other than read or write.
var ErrInvalidMode = errors.New("invalid session mode")

// Mode selects how a record is obtained.
type Mode string

const (
	// ModeWrite derives every stream from the raw files and persists them.
	ModeWrite Mode = "write"
	// ModeRead loads previously persisted streams.
	ModeRead Mode = "read"
)

// ParseMode validates a mode argument.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeWrite, ModeRead:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q, valid modes are %q and %q", ErrInvalidMode, s, ModeWrite, ModeRead)
	}
}

// State is the construction stage of a record.
type State int

const (
	StateUninitialized State = iota
	StateMetadataLoaded
	StateStreamsExtracted
	StatePreprocessed
	StateFrameAnnotated
	StatePersisted
	StateLoaded
	StateReady
)

var stateNames = [...]string{
	StateUninitialized:    "uninitialized",
	StateMetadataLoaded:   "metadata-loaded",
	StateStreamsExtracted: "streams-extracted",
	StatePreprocessed:     "preprocessed",
	StateFrameAnnotated:   "frame-annotated",
	StatePersisted:        "persisted",
	StateLoaded:           "loaded",
	StateReady:            "ready",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}
