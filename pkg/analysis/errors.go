package analysis

import "fmt"

// CoordinationError reports coordinator output the pipeline could not use: a
// missing required key, a truncated tool call, or an exhausted fallback.
type CoordinationError struct {
	Message    string
	RawExcerpt string
	Attempts   int
}

func (e *CoordinationError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s (%d attempts)", e.Message, e.Attempts)
	}
	return e.Message
}
