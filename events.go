package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/gin-contrib/sse"
)

// Event types emitted over the council stream, in pipeline order.
const (
	EventStage1Start    = "stage1_start"
	EventStage1Complete = "stage1_complete"
	EventStage2Start    = "stage2_start"
	EventStage2Complete = "stage2_complete"
	EventStage3Start    = "stage3_start"
	EventStage3Complete = "stage3_complete"
	EventTitleComplete  = "title_complete"
	EventComplete       = "complete"
	EventError          = "error"
)

// CouncilEvent is the JSON envelope carried in each SSE data frame.
// Data is the stage-specific payload; Message is set on error events only.
type CouncilEvent struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Stage2CompleteData is the payload of a stage2_complete event: the parsed
// rankings plus the label mapping and consensus ordering needed to render
// them.
type Stage2CompleteData struct {
	Rankings          []Stage2Ranking    `json:"rankings"`
	LabelToModel      map[string]string  `json:"label_to_model"`
	AggregateRankings []AggregateRanking `json:"aggregate_rankings"`
}

// EventSink receives orchestrator progress events. Sinks must tolerate
// being called after the consumer has gone away.
type EventSink func(event CouncilEvent)

// WriteEvent encodes one event as an SSE data frame on w.
func WriteEvent(w io.Writer, event CouncilEvent) error {
	return sse.Encode(w, sse.Event{Data: event})
}

// StreamEvent is a decoded council stream event. Data is left raw so
// consumers unmarshal only the payload shape they care about.
type StreamEvent struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// StreamDecoder incrementally decodes council events from an SSE byte
// stream. Chunks may split events anywhere: an unterminated trailing line
// is buffered and completed by the next chunk. Lines without the data
// prefix (comments, other SSE fields, blank separators) are framing noise
// and are skipped. A malformed data payload is reported through OnError
// and never stops decoding of later events.
type StreamDecoder struct {
	residual []byte

	// OnError, when set, receives each decode error. Defaults to log.Printf.
	OnError func(err error)
}

// NewStreamDecoder returns a decoder with default error reporting.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{}
}

// Decode consumes one chunk and returns the events completed by it.
func (d *StreamDecoder) Decode(chunk []byte) []StreamEvent {
	buf := append(d.residual, chunk...)
	lines := bytes.Split(buf, []byte("\n"))

	// The final element is either empty (chunk ended on a newline) or a
	// partial line that the next chunk will finish.
	d.residual = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	var events []StreamEvent
	for _, line := range lines {
		if event, ok := d.decodeLine(line); ok {
			events = append(events, event)
		}
	}
	return events
}

// Flush decodes whatever is left in the residual buffer. Call it once the
// stream has ended, in case the final event was not newline-terminated.
func (d *StreamDecoder) Flush() []StreamEvent {
	line := d.residual
	d.residual = nil

	if event, ok := d.decodeLine(line); ok {
		return []StreamEvent{event}
	}
	return nil
}

func (d *StreamDecoder) decodeLine(line []byte) (StreamEvent, bool) {
	text := strings.TrimRight(string(line), "\r")
	if !strings.HasPrefix(text, "data:") {
		return StreamEvent{}, false
	}

	payload := strings.TrimSpace(strings.TrimPrefix(text, "data:"))
	if payload == "" {
		return StreamEvent{}, false
	}

	var event StreamEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		d.reportError(fmt.Errorf("malformed event payload %q: %w", payload, err))
		return StreamEvent{}, false
	}
	if event.Type == "" {
		d.reportError(fmt.Errorf("event payload %q has no type", payload))
		return StreamEvent{}, false
	}
	return event, true
}

func (d *StreamDecoder) reportError(err error) {
	if d.OnError != nil {
		d.OnError(err)
		return
	}
	log.Printf("stream decode: %v", err)
}
