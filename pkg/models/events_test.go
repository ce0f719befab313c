package models

import "testing"

func TestFormatStreamMarker_AndParseStreamMarker_RoundTrip(t *testing.T) {
	s := FormatStreamMarker(StreamEventToolStart, "search")
	event, payload, ok := ParseStreamMarker(s)
	if !ok {
		t.Fatal("expected marker to parse")
	}
	if event != StreamEventToolStart || payload != "search" {
		t.Errorf("event/payload = %q/%q, want tool_start/search", event, payload)
	}
}

func TestParseStreamMarker_OrdinaryContentIsNotAMarker(t *testing.T) {
	_, _, ok := ParseStreamMarker("just some regular streamed text")
	if ok {
		t.Error("expected ordinary content to not parse as a marker")
	}
}

func TestParseStreamMarker_PrefixWithoutSeparatorIsNotAMarker(t *testing.T) {
	_, _, ok := ParseStreamMarker(markerPrefix + "tool_start")
	if ok {
		t.Error("expected marker missing the separator to fail parsing")
	}
}

func TestToolStartMarker_AndToolEndMarker(t *testing.T) {
	start := ToolStartMarker("search")
	event, payload, ok := ParseStreamMarker(start)
	if !ok || event != StreamEventToolStart || payload != "search" {
		t.Errorf("ToolStartMarker() parsed as %q/%q/%v", event, payload, ok)
	}

	end := ToolEndMarker("search")
	event, payload, ok = ParseStreamMarker(end)
	if !ok || event != StreamEventToolEnd || payload != "search" {
		t.Errorf("ToolEndMarker() parsed as %q/%q/%v", event, payload, ok)
	}
}

func TestErrorMarker(t *testing.T) {
	marker := ErrorMarker("tool exploded")
	event, payload, ok := ParseStreamMarker(marker)
	if !ok || event != StreamEventError || payload != "tool exploded" {
		t.Errorf("ErrorMarker() parsed as %q/%q/%v", event, payload, ok)
	}
}

func TestParseStreamMarker_PayloadContainingSeparatorStaysIntact(t *testing.T) {
	payload := "line1\x00line2"
	marker := FormatStreamMarker(StreamEventError, payload)
	_, got, ok := ParseStreamMarker(marker)
	if !ok || got != payload {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}
