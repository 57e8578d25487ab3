// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import (
	"encoding/json"
	"fmt"
)

// EventKind classifies stream events.
type EventKind int

const (
	// EventText is a fragment of response text.
	EventText EventKind = iota + 1

	// EventActivity reports tool use progress.
	EventActivity

	// EventDone ends a successful stream.
	EventDone

	// EventError ends a failed stream.
	EventError
)

// ActivityType names a tool use notification.
type ActivityType string

const (
	ActivityToolStart ActivityType = "tool_start"
	ActivityToolInput ActivityType = "tool_input"
	ActivityToolEnd   ActivityType = "tool_end"
	ActivityToolCall  ActivityType = "tool_call"
)

// Activity is the payload of an EventActivity.
type Activity struct {
	Type ActivityType `json:"type"`
	Tool string       `json:"tool,omitempty"`

	// Input is the complete tool arguments, set on tool_call.
	Input json.RawMessage `json:"input,omitempty"`

	// Partial is an argument fragment, set on tool_input.
	Partial string `json:"partial,omitempty"`
}

// Event is one element of a response stream. Kind selects which
// fields are meaningful.
type Event struct {
	Kind EventKind

	Text     string
	Activity Activity

	// FilesModified and SuggestedCommands are set on EventDone.
	FilesModified     []string
	SuggestedCommands []string

	// Message is set on EventError.
	Message string
}

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

// MarshalJSON encodes the push-channel shapes: {"text"},
// {"activity"}, {"done","files_modified","suggested_commands"}, and
// {"error"}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventText:
		return json.Marshal(struct {
			Text string `json:"text"`
		}{e.Text})
	case EventActivity:
		return json.Marshal(struct {
			Activity Activity `json:"activity"`
		}{e.Activity})
	case EventDone:
		return json.Marshal(struct {
			Done              bool     `json:"done"`
			FilesModified     []string `json:"files_modified"`
			SuggestedCommands []string `json:"suggested_commands"`
		}{true, nonNil(e.FilesModified), nonNil(e.SuggestedCommands)})
	case EventError:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{e.Message})
	}
	return nil, fmt.Errorf("agentdriver: cannot encode event kind %d", e.Kind)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func textEvent(text string) Event {
	return Event{Kind: EventText, Text: text}
}

func activityEvent(activity Activity) Event {
	return Event{Kind: EventActivity, Activity: activity}
}

func errorEvent(message string) Event {
	return Event{Kind: EventError, Message: message}
}

// doneEvent runs both extractions over the full response text.
func doneEvent(response string) Event {
	return Event{
		Kind:              EventDone,
		FilesModified:     ExtractModifiedFiles(response),
		SuggestedCommands: ExtractCommands(response),
	}
}
