package models

import "strings"

// stream marker envelope: a small, stable prefix distinguishes meta-events
// from plain content chunks so that parse is total over any string.
const (
	markerPrefix    = "\x00arc:"
	markerSeparator = "\x00"
)

// FormatStreamMarker renders an event+payload pair into its wire form.
func FormatStreamMarker(event StreamEvent, payload string) string {
	return markerPrefix + string(event) + markerSeparator + payload
}

// ParseStreamMarker reverses FormatStreamMarker. It returns ok=false for
// any string that is not a marker, including ordinary content chunks,
// making it total over the full space of stream output.
func ParseStreamMarker(s string) (event StreamEvent, payload string, ok bool) {
	if !strings.HasPrefix(s, markerPrefix) {
		return "", "", false
	}
	rest := s[len(markerPrefix):]
	idx := strings.Index(rest, markerSeparator)
	if idx < 0 {
		return "", "", false
	}
	return StreamEvent(rest[:idx]), rest[idx+len(markerSeparator):], true
}

// ToolStartMarker builds the marker emitted before a tool is dispatched.
func ToolStartMarker(toolName string) string {
	return FormatStreamMarker(StreamEventToolStart, toolName)
}

// ToolEndMarker builds the marker emitted after a tool has returned.
func ToolEndMarker(toolName string) string {
	return FormatStreamMarker(StreamEventToolEnd, toolName)
}

// ErrorMarker builds the terminal marker emitted when a stream ends in
// failure instead of a final textual answer.
func ErrorMarker(message string) string {
	return FormatStreamMarker(StreamEventError, message)
}
