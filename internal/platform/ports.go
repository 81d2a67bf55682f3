package platform

import (
	"strconv"
	"strings"
)

// portFromAddress extracts the port from "host:port", "[v6]:port" or "*:port".
func portFromAddress(addr string) (int, bool) {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 || idx == len(addr)-1 {
		return 0, false
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
