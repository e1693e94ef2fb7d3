package audit

import (
	"fmt"
	"net"
	"strings"
)

// AnonymizeIP masks the host-identifying portion of an address before it is
// written to the audit log. IPv4 keeps the first three octets; IPv6 keeps
// the first six groups. Unparsable input is fully masked.
func AnonymizeIP(addr string) string {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return ""
	}
	// Accept host:port forms from http.Request.RemoteAddr.
	if host, _, err := net.SplitHostPort(trimmed); err == nil {
		trimmed = host
	}
	ip := net.ParseIP(trimmed)
	if ip == nil {
		return "unknown"
	}
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.xxx", v4[0], v4[1], v4[2])
	}
	v6 := ip.To16()
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		groups[i] = fmt.Sprintf("%x", uint16(v6[i*2])<<8|uint16(v6[i*2+1]))
	}
	for i := 6; i < 8; i++ {
		groups[i] = "xxxx"
	}
	return strings.Join(groups, ":")
}
