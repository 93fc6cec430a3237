package config

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Error codes of configuration problems.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeLoadFailed   = "E004" // File could not be read or parsed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeSchema       = "E006" // CUE schema violation
	ErrCodeUnknownExt   = "E008" // Unsupported file extension
	ErrCodeNoHeaders    = "E010" // No headers configured
	ErrCodeInvalidField = "E011" // Field has an invalid value
)

// Error is a configuration problem, positioned when it comes from a CUE
// file.
type Error struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}
