package ipc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
	}{
		{"message", &Message{Text: "hello", Media: []string{"media/pic.png"}}},
		{"message from specialist", &Message{Text: "done", From: "researcher"}},
		{"image", &Image{Path: "media/shot.png", Caption: "screenshot"}},
		{"delegate", &Delegate{AgentName: "coder", Task: "fix the bug", WaitForResult: true}},
		{"schedule", &ScheduleTask{Prompt: "daily report", ScheduleType: "cron", ScheduleValue: "0 9 * * *"}},
		{"pause", &PauseTask{TaskID: "task-1"}},
		{"resume", &ResumeTask{TaskID: "task-1"}},
		{"cancel", &CancelTask{TaskID: "task-1"}},
		{"create agent", &CreateAgent{Name: "coder", Model: "gpt-4o", SystemPrompt: "you write code"}},
		{"delete agent", &DeleteAgent{Name: "coder"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.cmd)
			require.NoError(t, err)

			var head struct {
				Type      string `json:"type"`
				Timestamp string `json:"timestamp"`
			}
			require.NoError(t, json.Unmarshal(data, &head))
			assert.Equal(t, string(tc.cmd.Kind()), head.Type)
			assert.NotEmpty(t, head.Timestamp, "encode must inject a timestamp")

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tc.cmd.Kind(), decoded.Kind())
		})
	}
}

func TestDecodePreservesFields(t *testing.T) {
	data, err := Encode(&Delegate{AgentName: "researcher", Task: "find papers", WaitForResult: true})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	delegate, ok := decoded.(*Delegate)
	require.True(t, ok)
	assert.Equal(t, "researcher", delegate.AgentName)
	assert.Equal(t, "find papers", delegate.Task)
	assert.True(t, delegate.WaitForResult)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"launch_missiles","timestamp":"2026-01-01T00:00:00Z"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":"message",`))
	assert.Error(t, err)
}

func TestUpdateAgentNilFieldsStayNil(t *testing.T) {
	data, err := Encode(&UpdateAgent{Name: "coder"})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	update := decoded.(*UpdateAgent)
	assert.Nil(t, update.Model)
	assert.Nil(t, update.SystemPrompt)
	assert.Nil(t, update.ToolServers)
}
