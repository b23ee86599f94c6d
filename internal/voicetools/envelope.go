package voicetools

import (
	"encoding/json"
	"errors"
	"fmt"
)

// toolRequest is the voice platform's tool-call envelope. Only the first
// tool call is executed; the platform sends one per request.
type toolRequest struct {
	Message struct {
		ToolCallList []toolCall `json:"toolCallList"`
		Call         struct {
			AssistantID string `json:"assistantId"`
		} `json:"call"`
	} `json:"message"`
}

type toolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// toolResponse always carries a flat human-readable string per tool call.
// The voice agent reads result verbatim, so errors are phrased for a
// caller's ear, never as codes.
type toolResponse struct {
	Results []toolResult `json:"results"`
}

type toolResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

var errEmptyToolCall = errors.New("voicetools: empty tool call list")

func parseEnvelope(body []byte) (*toolRequest, *toolCall, error) {
	var req toolRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, fmt.Errorf("voicetools: parse envelope: %w", err)
	}
	if len(req.Message.ToolCallList) == 0 {
		return nil, nil, errEmptyToolCall
	}
	return &req, &req.Message.ToolCallList[0], nil
}

// arguments decodes the tool call's argument object. The platform sends
// either a JSON object or a doubly encoded JSON string.
func (tc *toolCall) arguments(out any) error {
	raw := tc.Function.Arguments
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		raw = []byte(asString)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("voicetools: parse arguments: %w", err)
	}
	return nil
}
