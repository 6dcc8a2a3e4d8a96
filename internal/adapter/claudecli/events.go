package claudecli

import (
	"encoding/json"
	"fmt"

	"github.com/chriopter/sandboxer/internal/domain/chat"
	"github.com/chriopter/sandboxer/internal/port/agentrunner"
)

// wireEvent is one line of the CLI's stream-json output. Only the fields we
// consume are declared; unknown event types are skipped.
type wireEvent struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Message   *wireMessage `json:"message,omitempty"`
	Delta     *wireDelta   `json:"delta,omitempty"`

	// result fields
	Result     string  `json:"result,omitempty"`
	CostUSD    float64 `json:"total_cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
	IsError    bool    `json:"is_error,omitempty"`
}

type wireMessage struct {
	Content []wireBlock `json:"content"`
}

type wireDelta struct {
	Text string `json:"text"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// decodeLine translates one stream-json line into zero or more runner
// events. Unknown or irrelevant event types yield nothing.
func decodeLine(line []byte) ([]agentrunner.Event, error) {
	var ev wireEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}

	switch ev.Type {
	case "system":
		if ev.Subtype == "init" && ev.SessionID != "" {
			return []agentrunner.Event{{Type: agentrunner.EventInit, ResumeToken: ev.SessionID}}, nil
		}
		return nil, nil

	case "assistant":
		if ev.Message == nil {
			return nil, nil
		}
		var out []agentrunner.Event
		for _, b := range ev.Message.Content {
			out = append(out, blockEvents(b)...)
		}
		return out, nil

	case "content_block_delta":
		if ev.Delta == nil || ev.Delta.Text == "" {
			return nil, nil
		}
		return []agentrunner.Event{{Type: agentrunner.EventDelta, Delta: ev.Delta.Text}}, nil

	case "result":
		return []agentrunner.Event{{Type: agentrunner.EventResult, Result: &agentrunner.Result{
			Text:       ev.Result,
			CostUSD:    ev.CostUSD,
			DurationMS: ev.DurationMS,
			NumTurns:   ev.NumTurns,
			IsError:    ev.IsError,
		}}}, nil

	default:
		return nil, nil
	}
}

func blockEvents(b wireBlock) []agentrunner.Event {
	switch b.Type {
	case "text":
		if b.Text == "" {
			return nil
		}
		return []agentrunner.Event{{Type: agentrunner.EventDelta, Delta: b.Text}}
	case "thinking":
		return []agentrunner.Event{{Type: agentrunner.EventBlock, Block: &chat.Block{
			Type:     chat.BlockThinking,
			Thinking: b.Thinking,
		}}}
	case "tool_use":
		return []agentrunner.Event{{Type: agentrunner.EventBlock, Block: &chat.Block{
			Type: chat.BlockToolUse,
			ToolUse: &chat.ToolUse{
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			},
		}}}
	case "tool_result":
		return []agentrunner.Event{{Type: agentrunner.EventBlock, Block: &chat.Block{
			Type: chat.BlockToolResult,
			ToolResult: &chat.ToolResult{
				ToolUseID: b.ToolUseID,
				Content:   toolResultText(b.Content),
				IsError:   b.IsError,
			},
		}}}
	default:
		return nil
	}
}

// toolResultText flattens a tool result's content, which the CLI emits
// either as a plain string or as a list of text blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out string
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out
	}
	return string(raw)
}
