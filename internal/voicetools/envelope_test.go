package voicetools

import (
	"errors"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	body := []byte(`{
		"message": {
			"toolCallList": [{
				"id": "call-1",
				"function": {
					"name": "check_calendar_availability",
					"arguments": {"startDate": "2026-03-10"}
				}
			}],
			"call": {"assistantId": "asst_1"}
		}
	}`)

	req, call, err := parseEnvelope(body)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if req.Message.Call.AssistantID != "asst_1" || call.ID != "call-1" {
		t.Errorf("envelope = %+v", req)
	}

	var args availabilityArgs
	if err := call.arguments(&args); err != nil {
		t.Fatalf("arguments: %v", err)
	}
	if args.StartDate != "2026-03-10" {
		t.Errorf("StartDate = %q", args.StartDate)
	}
}

func TestParseEnvelopeStringArguments(t *testing.T) {
	body := []byte(`{
		"message": {
			"toolCallList": [{
				"id": "call-1",
				"function": {
					"name": "create_calendar_event",
					"arguments": "{\"startTime\": \"2026-03-10T15:00:00Z\", \"durationMinutes\": 30}"
				}
			}]
		}
	}`)

	_, call, err := parseEnvelope(body)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	var args createEventArgs
	if err := call.arguments(&args); err != nil {
		t.Fatalf("arguments: %v", err)
	}
	if args.StartTime != "2026-03-10T15:00:00Z" || args.DurationMinutes != 30 {
		t.Errorf("args = %+v", args)
	}
}

func TestParseEnvelopeEmptyToolCalls(t *testing.T) {
	_, _, err := parseEnvelope([]byte(`{"message": {"toolCallList": []}}`))
	if !errors.Is(err, errEmptyToolCall) {
		t.Errorf("err = %v, want errEmptyToolCall", err)
	}
	if _, _, err := parseEnvelope([]byte(`not json`)); err == nil {
		t.Error("garbage body accepted")
	}
}
