// Package logwatch turns a simulator's diagnostic output into lifecycle
// events.
package logwatch

import (
	"regexp"
	"strings"
)

// Event is a lifecycle transition derived from the simulator's output.
type Event int

const (
	// EventStarted is emitted when the simulation start marker is seen.
	EventStarted Event = iota + 1
	// EventEnded is emitted when the simulation end marker is seen.
	EventEnded
	// EventBuildFailed is emitted when a build or run recipe failed.
	EventBuildFailed
	// EventEndOfStream is emitted once when the diagnostic stream closes.
	EventEndOfStream
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	case EventBuildFailed:
		return "build_failed"
	case EventEndOfStream:
		return "end_of_stream"
	default:
		return "unknown"
	}
}

// Markers are the patterns a line is tested against, in this order: start,
// end, failure. The failure pattern is matched against the line with every
// character outside [a-zA-Z0-9 \n] removed, so quoting and punctuation in
// make's output do not matter.
type Markers struct {
	Start   string
	End     string
	Failure *regexp.Regexp
}

const (
	DefaultStartMarker    = "=== Simulation start ==="
	DefaultEndMarker      = "=== Simulation end ==="
	DefaultFailurePattern = `(?i)recipe for target (\w*) failed`
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9 \n]`)

// DefaultMarkers returns the markers printed by the ETISS virtual prototype
// run script and by make.
func DefaultMarkers() Markers {
	return Markers{
		Start:   DefaultStartMarker,
		End:     DefaultEndMarker,
		Failure: regexp.MustCompile(DefaultFailurePattern),
	}
}

// Match classifies a single line. A line maps to at most one event; the
// first matching category wins.
func (m Markers) Match(line string) (Event, bool) {
	switch {
	case m.Start != "" && strings.Contains(line, m.Start):
		return EventStarted, true
	case m.End != "" && strings.Contains(line, m.End):
		return EventEnded, true
	case m.Failure != nil && m.Failure.MatchString(nonAlnum.ReplaceAllString(line, "")):
		return EventBuildFailed, true
	}
	return 0, false
}
