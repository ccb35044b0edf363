package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "separate value",
			args:         []string{"-c", "conf.json", "-a", "http://localhost:8000"},
			allowedFlags: []string{"-c", "--config"},
			want:         []string{"-c", "conf.json"},
		},
		{
			name:         "equals form",
			args:         []string{"--config=alt.json", "-i", "5"},
			allowedFlags: []string{"-c", "--config"},
			want:         []string{"--config=alt.json"},
		},
		{
			name:         "unknown flags dropped",
			args:         []string{"-x", "1", "--y=2", "positional"},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "trailing flag without value",
			args:         []string{"-c"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "dash token is not a value",
			args:         []string{"-c", "-t", "10"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "repeated flag preserved in order",
			args:         []string{"-e", "one.env", "-e", "two.env"},
			allowedFlags: []string{"-e"},
			want:         []string{"-e", "one.env", "-e", "two.env"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowedFlags))
		})
	}
}

func TestStringFlag(t *testing.T) {
	args := []string{"-a", "http://api", "--env-file=.env.local", "-c", "declaro.json"}

	assert.Equal(t, "declaro.json", StringFlag(args, "c", "config"))
	assert.Equal(t, ".env.local", StringFlag(args, "e", "env-file"))
	assert.Empty(t, StringFlag(args, "missing"))
}

func TestConfigAndEnvFileFlags(t *testing.T) {
	args := []string{"-c", "/etc/declaro.json", "-config", "/tmp/override.json", "-e", "prod.env"}
	assert.Equal(t, "/tmp/override.json", ConfigFileFlag(args))
	assert.Equal(t, "prod.env", EnvFileFlag(args))

	args = []string{"console"}
	assert.Empty(t, ConfigFileFlag(args))
	assert.Empty(t, EnvFileFlag(args))
}
