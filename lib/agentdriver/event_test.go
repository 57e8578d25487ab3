// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import (
	"encoding/json"
	"testing"
)

func TestEventJSONShapes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"text", textEvent("hi"), `{"text":"hi"}`},
		{"tool start", activityEvent(Activity{Type: ActivityToolStart, Tool: "Bash"}), `{"activity":{"type":"tool_start","tool":"Bash"}}`},
		{"tool input", activityEvent(Activity{Type: ActivityToolInput, Tool: "Bash", Partial: `{"cmd`}), `{"activity":{"type":"tool_input","tool":"Bash","partial":"{\"cmd"}}`},
		{"tool call", activityEvent(Activity{Type: ActivityToolCall, Tool: "Write", Input: json.RawMessage(`{"path":"x"}`)}), `{"activity":{"type":"tool_call","tool":"Write","input":{"path":"x"}}}`},
		{"done empty", Event{Kind: EventDone}, `{"done":true,"files_modified":[],"suggested_commands":[]}`},
		{"done", Event{Kind: EventDone, FilesModified: []string{"a"}, SuggestedCommands: []string{"ls"}}, `{"done":true,"files_modified":["a"],"suggested_commands":["ls"]}`},
		{"error", errorEvent("boom"), `{"error":"boom"}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data, err := json.Marshal(test.event)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != test.want {
				t.Errorf("Marshal = %s, want %s", data, test.want)
			}
		})
	}
	if _, err := json.Marshal(Event{}); err == nil {
		t.Error("zero event encoded")
	}
}
