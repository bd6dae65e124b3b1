package transport

import (
	"fmt"
	"net"
	"strconv"
)

// ParsePeers resolves "host:port" strings into UDP peer addresses.
// A bare host gets DefaultPort.
func ParsePeers(addrs []string) ([]net.Addr, error) {
	peers := make([]net.Addr, 0, len(addrs))
	for _, a := range addrs {
		if _, _, err := net.SplitHostPort(a); err != nil {
			a = net.JoinHostPort(a, strconv.Itoa(DefaultPort))
		}
		udpAddr, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, a, err)
		}
		peers = append(peers, udpAddr)
	}
	return peers, nil
}

// PeerFromService builds a UDP peer address from a resolved mDNS service,
// preferring IPv4.
func PeerFromService(svc ResolvedService) (net.Addr, error) {
	ip := svc.PreferredIP()
	if ip == nil {
		return nil, ErrInvalidAddress
	}
	return &net.UDPAddr{IP: ip, Port: svc.Port}, nil
}
