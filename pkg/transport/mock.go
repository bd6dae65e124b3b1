package transport

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNS is an in-process mDNS registry for tests. It implements both
// MDNSServerFactory and MDNSResolver: services registered through the
// factory are returned by Browse.
type MockMDNS struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
	ip       net.IP
}

// NewMockMDNS creates a mock registry that reports ip for every service.
func NewMockMDNS(ip net.IP) *MockMDNS {
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1)
	}
	return &MockMDNS{
		services: make(map[string][]*zeroconf.ServiceEntry),
		ip:       ip,
	}
}

type mockServer struct {
	m        *MockMDNS
	service  string
	instance string
}

func (s *mockServer) Shutdown() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	entries := s.m.services[s.service]
	for i, e := range entries {
		if e.Instance == s.instance {
			s.m.services[s.service] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Register implements MDNSServerFactory.
func (m *MockMDNS) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  service,
			Domain:   domain,
		},
		HostName: instance + ".local.",
		Port:     port,
		Text:     append([]string(nil), txt...),
		AddrIPv4: []net.IP{m.ip},
	}

	m.mu.Lock()
	m.services[service] = append(m.services[service], entry)
	m.mu.Unlock()

	return &mockServer{m: m, service: service, instance: instance}, nil
}

// Browse implements MDNSResolver. Entries are sent synchronously; Browse
// then waits for the context to end like a real browse.
func (m *MockMDNS) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.RLock()
	found := append([]*zeroconf.ServiceEntry(nil), m.services[service]...)
	m.mu.RUnlock()

	for _, e := range found {
		select {
		case entries <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return nil
}

// Count returns the number of registered services of a type.
func (m *MockMDNS) Count(service string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services[service])
}

// Verify MockMDNS implements both mDNS interfaces.
var (
	_ MDNSServerFactory = (*MockMDNS)(nil)
	_ MDNSResolver      = (*MockMDNS)(nil)
)
