package netx

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	info := Describe(context.Background(), "1.2.3")

	assert.True(t, strings.HasPrefix(info.UserAgent, "declaro/1.2.3 ("))
	assert.Contains(t, info.UserAgent, runtime.GOOS)
	assert.Equal(t, "desktop", info.DeviceType)
	if info.IP != "" {
		assert.Equal(t, info.IP, NormalizeIP(info.IP))
	}
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"192.168.1.10", "192.168.1.10"},
		{"::ffff:10.0.0.1", "10.0.0.1"},
		{"2001:0db8:0000:0000:0000:0000:0000:0001", "2001:db8::1"},
		{"not-an-ip", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeIP(tt.in), tt.in)
	}
}

func TestOutboundIP_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, OutboundIP(ctx))
}
