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
			name:  "simple substitution",
			input: "bind_address: ${BIND_ADDR}",
			env:   map[string]string{"BIND_ADDR": "0.0.0.0:9000"},
			want:  "bind_address: 0.0.0.0:9000",
		},
		{
			name:  "default used when var unset",
			input: "bind_address: ${BIND_ADDR:-127.0.0.1:8765}",
			env:   map[string]string{},
			want:  "bind_address: 127.0.0.1:8765",
		},
		{
			name:  "value wins over default when var set",
			input: "bind_address: ${BIND_ADDR:-127.0.0.1:8765}",
			env:   map[string]string{"BIND_ADDR": "0.0.0.0:9000"},
			want:  "bind_address: 0.0.0.0:9000",
		},
		{
			name:  "missing var with no default expands to empty",
			input: "token: ${MISSING_TOKEN}",
			env:   map[string]string{},
			want:  "token: ",
		},
		{
			name:  "multiple substitutions",
			input: "url: ${SCHEME}://${HOST}:${PORT}",
			env:   map[string]string{"SCHEME": "https", "HOST": "example.com", "PORT": "443"},
			want:  "url: https://example.com:443",
		},
		{
			name:  "bare $VAR form is also expanded",
			input: "host: $HOST",
			env:   map[string]string{"HOST": "localhost"},
			want:  "host: localhost",
		},
		{
			name:  "no substitution when no variables",
			input: "static: value",
			env:   map[string]string{"UNUSED": "value"},
			want:  "static: value",
		},
		{
			name:  "empty default is valid",
			input: "label: ${LABEL:-}",
			env:   map[string]string{},
			want:  "label: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

func TestExpandEnvWithEmptyInput(t *testing.T) {
	assert.Equal(t, "", string(ExpandEnv([]byte(""))))
}

func TestExpandEnvPreservesOriginalWhenNoVariables(t *testing.T) {
	input := "server:\n  bind_address: 127.0.0.1:8765\nscanner:\n  mode: enforce\n"
	assert.Equal(t, input, string(ExpandEnv([]byte(input))))
}
