// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import (
	"encoding/json"
	"strings"
	"testing"
)

const sessionTranscript = `{"type":"system","subtype":"init","session_id":"s1"}
{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}}
{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}}
{"type":"stream_event","event":{"type":"content_block_stop","index":0}}
{"type":"stream_event","event":{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"t1","name":"Write","input":{}}}}
{"type":"stream_event","event":{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}}
not json at all
{"type":"stream_event","event":{"type":"content_block_stop","index":1}}
{"type":"assistant","message":{"content":[{"type":"text","text":"Hello"},{"type":"tool_use","id":"t1","name":"Write","input":{"path":"a.txt"}}]}}
{"type":"stream_event","event":{"type":"content_block_start","index":2,"content_block":{"type":"text","text":""}}}
{"type":"stream_event","event":{"type":"content_block_delta","index":2,"delta":{"type":"text_delta","text":"Created a.txt"}}}
{"type":"stream_event","event":{"type":"content_block_stop","index":2}}
{"type":"result","subtype":"success","result":"Hello\n\nCreated a.txt and more"}
`

// describe renders events compactly for comparison.
func describe(events []Event) []string {
	var result []string
	for _, event := range events {
		switch event.Kind {
		case EventText:
			result = append(result, "text:"+event.Text)
		case EventActivity:
			entry := "activity:" + string(event.Activity.Type) + ":" + event.Activity.Tool
			if event.Activity.Partial != "" {
				entry += ":" + event.Activity.Partial
			}
			if len(event.Activity.Input) > 0 {
				entry += ":" + string(event.Activity.Input)
			}
			result = append(result, entry)
		default:
			data, _ := json.Marshal(event)
			result = append(result, string(data))
		}
	}
	return result
}

var wantTranscriptEvents = []string{
	"text:Hello",
	"activity:tool_start:Write",
	`activity:tool_input:Write:{"path":`,
	"activity:tool_end:Write",
	`activity:tool_call:Write:{"path":"a.txt"}`,
	"text:\n\n",
	"text:Created a.txt",
	"text: and more",
}

func TestDecoderTranscript(t *testing.T) {
	var decoder Decoder
	got := describe(decoder.Feed([]byte(sessionTranscript)))
	if strings.Join(got, "|") != strings.Join(wantTranscriptEvents, "|") {
		t.Errorf("events:\n%q\nwant:\n%q", got, wantTranscriptEvents)
	}
	if response := decoder.Response(); response != "Hello\n\nCreated a.txt and more" {
		t.Errorf("Response = %q", response)
	}

	done := decoder.Finish()
	if done.Kind != EventDone {
		t.Fatalf("Finish kind = %d", done.Kind)
	}
	if len(done.FilesModified) != 1 || done.FilesModified[0] != "a.txt and more" {
		t.Errorf("FilesModified = %q", done.FilesModified)
	}
}

func TestDecoderSplitChunks(t *testing.T) {
	var decoder Decoder
	var events []Event
	for i := 0; i < len(sessionTranscript); i += 7 {
		end := min(i+7, len(sessionTranscript))
		events = append(events, decoder.Feed([]byte(sessionTranscript[i:end]))...)
	}
	got := describe(events)
	if strings.Join(got, "|") != strings.Join(wantTranscriptEvents, "|") {
		t.Errorf("chunked events:\n%q\nwant:\n%q", got, wantTranscriptEvents)
	}
}

func TestDecoderResultOnly(t *testing.T) {
	var decoder Decoder
	events := decoder.Feed([]byte(`{"type":"result","result":"Full answer"}` + "\n"))
	if got := describe(events); len(got) != 1 || got[0] != "text:Full answer" {
		t.Errorf("events = %q", got)
	}
}

func TestDecoderResultDiverges(t *testing.T) {
	var decoder Decoder
	decoder.Feed([]byte(`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"abc"}}}` + "\n"))
	events := decoder.Feed([]byte(`{"type":"result","result":"xyz"}` + "\n"))
	if len(events) != 0 {
		t.Errorf("diverging result emitted %q", describe(events))
	}
	if decoder.Response() != "abc" {
		t.Errorf("Response = %q", decoder.Response())
	}
}

func TestDecoderNoBreakBeforeFirstText(t *testing.T) {
	var decoder Decoder
	input := `{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"tool_use","name":"Read"}}}
{"type":"stream_event","event":{"type":"content_block_stop"}}
{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"text"}}}
{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}}
`
	got := describe(decoder.Feed([]byte(input)))
	want := []string{"activity:tool_start:Read", "activity:tool_end:Read", "text:hi"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestDecoderFlush(t *testing.T) {
	var decoder Decoder
	if events := decoder.Feed([]byte(`{"type":"result","result":"tail"}`)); len(events) != 0 {
		t.Fatalf("unterminated line decoded early: %q", describe(events))
	}
	if got := describe(decoder.Flush()); len(got) != 1 || got[0] != "text:tail" {
		t.Errorf("Flush = %q", got)
	}
	if events := decoder.Flush(); events != nil {
		t.Errorf("second Flush = %q", describe(events))
	}
}
