package node

import (
	"net"
	"strings"
)

// NormalizeHostPort cuts the http:// https:// udp:// tcp:// prefixes from the
// input address and adds a default port
func NormalizeHostPort(addr, defPort string) string {
	for _, scheme := range []string{"http://", "https://", "udp://", "tcp://"} {
		if rest, ok := strings.CutPrefix(addr, scheme); ok {
			addr = rest
			break
		}
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(addr, defPort)
}

// BindAddr turns the advertised host:port of a node into the address its
// listener binds: every interface, same port.
func BindAddr(advertised string) string {
	_, port, err := net.SplitHostPort(advertised)
	if err != nil {
		return advertised
	}
	return ":" + port
}
