// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import (
	"bytes"
	"encoding/json"
	"strings"
)

// blockKind is the content block the decoder is inside.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// Decoder converts stream-json output into events. Feed it raw stdout
// chunks in order; partial lines are buffered until their newline
// arrives. Lines that are not valid JSON, or not an event the decoder
// understands, are skipped. Not safe for concurrent use.
type Decoder struct {
	pending []byte

	// response is all text emitted so far, paragraph breaks included.
	response strings.Builder

	current  blockKind
	previous blockKind
	tool     string
}

// streamLine is the subset of one stream-json record the decoder
// reads.
type streamLine struct {
	Type    string          `json:"type"`
	Event   *streamEvent    `json:"event"`
	Message *messageContent `json:"message"`
	Result  *string         `json:"result"`
}

// streamEvent is the inner event of a stream_event record.
type streamEvent struct {
	Type         string `json:"type"`
	ContentBlock *struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type messageContent struct {
	Content []struct {
		Type  string          `json:"type"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
}

// Feed consumes a chunk of output and returns the events completed
// lines produce.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.pending = append(d.pending, chunk...)
	var events []Event
	for {
		newline := bytes.IndexByte(d.pending, '\n')
		if newline < 0 {
			break
		}
		line := d.pending[:newline]
		events = append(events, d.decodeLine(line)...)
		d.pending = d.pending[newline+1:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return events
}

// Flush decodes a final line that ended without a newline.
func (d *Decoder) Flush() []Event {
	if len(d.pending) == 0 {
		return nil
	}
	line := d.pending
	d.pending = nil
	return d.decodeLine(line)
}

// Response returns the text emitted so far.
func (d *Decoder) Response() string {
	return d.response.String()
}

// Finish returns the terminal Done event for the text emitted so far.
func (d *Decoder) Finish() Event {
	return doneEvent(d.response.String())
}

func (d *Decoder) decodeLine(line []byte) []Event {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	var record streamLine
	if err := json.Unmarshal(line, &record); err != nil {
		return nil
	}
	switch record.Type {
	case "stream_event":
		if record.Event != nil {
			return d.streamEvent(record.Event)
		}
	case "assistant":
		if record.Message != nil {
			return d.assistantMessage(record.Message)
		}
	case "result":
		if record.Result != nil {
			return d.result(*record.Result)
		}
	}
	return nil
}

func (d *Decoder) streamEvent(event *streamEvent) []Event {
	switch event.Type {
	case "content_block_start":
		if event.ContentBlock == nil {
			return nil
		}
		switch event.ContentBlock.Type {
		case "tool_use":
			d.current = blockTool
			d.tool = event.ContentBlock.Name
			return []Event{activityEvent(Activity{Type: ActivityToolStart, Tool: d.tool})}
		case "text":
			d.current = blockText
			if d.previous == blockTool && d.response.Len() > 0 {
				return []Event{d.emitText("\n\n")}
			}
		}

	case "content_block_delta":
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				return []Event{d.emitText(event.Delta.Text)}
			}
		case "input_json_delta":
			return []Event{activityEvent(Activity{Type: ActivityToolInput, Tool: d.tool, Partial: event.Delta.PartialJSON})}
		}

	case "content_block_stop":
		finished := d.current
		d.previous = finished
		d.current = blockNone
		if finished == blockTool {
			tool := d.tool
			d.tool = ""
			return []Event{activityEvent(Activity{Type: ActivityToolEnd, Tool: tool})}
		}
	}
	return nil
}

// assistantMessage reports each complete tool call in the message.
// Text content is ignored: it already arrived as deltas.
func (d *Decoder) assistantMessage(message *messageContent) []Event {
	var events []Event
	for _, content := range message.Content {
		if content.Type != "tool_use" {
			continue
		}
		events = append(events, activityEvent(Activity{
			Type:  ActivityToolCall,
			Tool:  content.Name,
			Input: content.Input,
		}))
	}
	return events
}

// result emits whatever part of the final text has not been sent. A
// result that does not extend what was sent adds nothing.
func (d *Decoder) result(final string) []Event {
	sent := d.response.String()
	if !strings.HasPrefix(final, sent) {
		return nil
	}
	suffix := final[len(sent):]
	if suffix == "" {
		return nil
	}
	return []Event{d.emitText(suffix)}
}

func (d *Decoder) emitText(text string) Event {
	d.response.WriteString(text)
	return textEvent(text)
}
