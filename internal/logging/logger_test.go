package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactMasksCredentials(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bearer token",
			in:   `Authorization: Bearer abc123def456ghi789`,
			want: placeholder,
		},
		{
			name: "api key assignment",
			in:   `api_key=sk-abcdefghijklmnopqrst sent to backend`,
			want: placeholder,
		},
		{
			name: "json secret field",
			in:   `{"secret": "hunter2-and-then-some"}`,
			want: placeholder,
		},
		{
			name: "standalone openai key",
			in:   `resolved sk-abcdefghijklmnopqrstuvwx for spawn`,
			want: placeholder,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Redact(tc.in)
			assert.Contains(t, out, tc.want)
			assert.NotContains(t, out, "sk-abcdefghijklmnopqrst")
			assert.NotContains(t, out, "hunter2")
			assert.NotContains(t, out, "abc123def456ghi789")
		})
	}
}

func TestRedactLeavesOrdinaryLinesAlone(t *testing.T) {
	line := "container agent-7 exited with code 0"
	assert.Equal(t, line, Redact(line))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	logger := NewComponentLogger("test")
	assert.Equal(t, logger, OrNop(logger))
}
