//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen config on platforms
// without SO_REUSEADDR handling.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
