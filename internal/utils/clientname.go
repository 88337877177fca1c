package utils

import (
	"fmt"
	"net"
	"os"
)

// ClientName identifies this process among the clients of a cluster:
// "<lan ipv4>#<pid>#<version>". The address falls back to the hostname when
// no non-loopback IPv4 address is configured.
func ClientName(version string) string {
	return fmt.Sprintf("%s#%d#%s", LocalIPv4(), os.Getpid(), version)
}

// LocalIPv4 returns the first non-loopback IPv4 address of an interface
// that is up
func LocalIPv4() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			if ip := firstIPv4(addrs); ip != "" {
				return ip
			}
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "127.0.0.1"
}

func firstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
