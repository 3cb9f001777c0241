package steward_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
)

func TestHistoryRoundTrip(t *testing.T) {
	h := steward.NewHistory()
	h.Add(steward.Turn{Role: steward.RoleUser, Content: "what is the weather"}).
		Add(steward.Turn{
			Role: steward.RoleAssistant,
			ToolCalls: []steward.ToolCallRecord{
				{ID: "call_1", Name: "get_weather", Arguments: map[string]any{"city": "Tokyo"}},
			},
		}).
		Add(steward.Turn{
			Role: steward.RoleTool,
			ToolResult: &steward.ToolResultRecord{
				CallID: "call_1",
				Name:   "get_weather",
				Data:   map[string]any{"condition": "sunny"},
			},
		}).
		Add(steward.Turn{Role: steward.RoleAssistant, Content: "It is sunny in Tokyo."})

	data := gt.R1(json.Marshal(h)).NoError(t)

	var restored steward.History
	gt.NoError(t, json.Unmarshal(data, &restored))
	gt.Equal(t, steward.HistoryVersion, restored.Version)
	gt.Equal(t, 4, restored.ToCount())
	gt.Equal(t, "get_weather", restored.Turns[1].ToolCalls[0].Name)
	gt.Equal(t, "call_1", restored.Turns[2].ToolResult.CallID)
}

func TestHistoryVersionMismatch(t *testing.T) {
	var h steward.History
	err := json.Unmarshal([]byte(`{"version": 99, "turns": []}`), &h)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, steward.ErrInvalidHistoryData))
}

func TestHistoryRecent(t *testing.T) {
	h := steward.NewHistory()
	for _, content := range []string{"a", "b", "c", "d"} {
		h.Add(steward.Turn{Role: steward.RoleUser, Content: content})
	}

	recent := h.Recent(2)
	gt.Equal(t, 2, len(recent))
	gt.Equal(t, "c", recent[0].Content)
	gt.Equal(t, "d", recent[1].Content)

	gt.Equal(t, 4, len(h.Recent(10)))
	gt.Equal(t, 0, len(h.Recent(0)))
}

func TestHistoryClone(t *testing.T) {
	h := steward.NewHistory()
	h.Add(steward.Turn{Role: steward.RoleUser, Content: "original"})

	clone := h.Clone()
	clone.Add(steward.Turn{Role: steward.RoleAssistant, Content: "reply"})

	gt.Equal(t, 1, h.ToCount())
	gt.Equal(t, 2, clone.ToCount())

	var nilHistory *steward.History
	gt.Equal(t, 0, nilHistory.ToCount())
	gt.True(t, nilHistory.Clone() == nil)
}
