package common

import (
	"net"
	"time"
)

// LocalHost returns the first non-loopback IPv4 address of this host, or
// the loopback address when none is up.
func LocalHost() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}

// ProbeLocalAddr discovers the local address a connection toward remote
// would use, without sending anything. Falls back to LocalHost when the
// peer is unreachable.
func ProbeLocalAddr(remote string) string {
	conn, err := net.DialTimeout("udp", remote, time.Second)
	if err != nil {
		return LocalHost()
	}
	defer func() { _ = conn.Close() }()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return LocalHost()
}

// FreePort asks the kernel for an unused TCP port on host.
func FreePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port, nil
}
