package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution with {{.VAR}}",
			input: "slack_channel: {{.CHANNEL_ID}}",
			env:   map[string]string{"CHANNEL_ID": "C99"},
			want:  "slack_channel: C99",
		},
		{
			name:  "literal ${VAR} is NOT expanded (no collision)",
			input: "pattern: ${HOST_ID}",
			env:   map[string]string{"HOST_ID": "123"},
			want:  "pattern: ${HOST_ID}",
		},
		{
			name:  "literal $ in regex preserved",
			input: "intent: ^restart nginx$",
			env:   map[string]string{},
			want:  "intent: ^restart nginx$",
		},
		{
			name:  "multiple substitutions in one line",
			input: "dsn: {{.DB_HOST}}:{{.DB_PORT}}",
			env:   map[string]string{"DB_HOST": "db1", "DB_PORT": "5432"},
			want:  "dsn: db1:5432",
		},
		{
			name:  "missing variable expands to empty",
			input: "token: {{.NOT_SET_ANYWHERE}}",
			env:   map[string]string{},
			want:  "token: ",
		},
		{
			name:  "malformed template returns input unchanged",
			input: "broken: {{.UNCLOSED",
			env:   map[string]string{},
			want:  "broken: {{.UNCLOSED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(got))
		})
	}
}
