// Package netx collects the best-effort technical metadata attached to a
// submitted declaration. Nothing here is trusted by the server.
package netx

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"
)

// ClientInfo describes the submitting device.
type ClientInfo struct {
	UserAgent   string
	DeviceType  string
	DeviceModel string
	IP          string
}

// Describe builds ClientInfo for this process. version is embedded in the
// user agent. IP is empty when no outbound route is available.
func Describe(ctx context.Context, version string) ClientInfo {
	host, _ := os.Hostname()
	return ClientInfo{
		UserAgent:   fmt.Sprintf("declaro/%s (%s; %s)", version, runtime.GOOS, runtime.GOARCH),
		DeviceType:  "desktop",
		DeviceModel: host,
		IP:          OutboundIP(ctx),
	}
}

// OutboundIP returns the local address the OS would use to reach the public
// internet. A UDP "dial" sends no packets.
func OutboundIP(ctx context.Context) string {
	d := net.Dialer{Timeout: 500 * time.Millisecond}
	conn, err := d.DialContext(ctx, "udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

// NormalizeIP returns the canonical text form of s, or "" if s is not an IP.
func NormalizeIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
