package utils

import (
	"net"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientName(t *testing.T) {
	name := ClientName("1.2.3")
	parts := strings.Split(name, "#")
	require.Len(t, parts, 3)
	assert.NotEmpty(t, parts[0])
	assert.Equal(t, strconv.Itoa(os.Getpid()), parts[1])
	assert.Equal(t, "1.2.3", parts[2])
}

func TestFirstIPv4(t *testing.T) {
	tests := []struct {
		name  string
		addrs []net.Addr
		want  string
	}{
		{"empty", nil, ""},
		{"loopback only", []net.Addr{&net.IPNet{IP: net.ParseIP("127.0.0.1")}}, ""},
		{"ipv6 skipped", []net.Addr{
			&net.IPNet{IP: net.ParseIP("fe80::1")},
			&net.IPNet{IP: net.ParseIP("10.1.2.3")},
		}, "10.1.2.3"},
		{"ip addr", []net.Addr{&net.IPAddr{IP: net.ParseIP("192.168.0.7")}}, "192.168.0.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstIPv4(tt.addrs))
		})
	}
}
