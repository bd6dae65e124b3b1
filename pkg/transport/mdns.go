package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DNS-SD names used to find UDP bridges on the local network.
const (
	// ServiceBridge is the DNS-SD service type of a UDP bridge.
	ServiceBridge = "_devbus._udp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// DefaultBrowseTimeout bounds a browse without a context deadline.
	DefaultBrowseTimeout = 3 * time.Second
)

// TXT record keys.
const (
	txtSegment  = "seg"
	txtDeviceID = "id"
	txtVersion  = "v"

	bridgeProtocolVersion = 1
)

// BridgeTXT is the TXT record of an advertised bridge.
type BridgeTXT struct {
	// Segment names the bus segment; bridges only peer within a segment.
	Segment string

	// DeviceID is the identifier of the bridge's own node, if any.
	DeviceID uint64
}

// Encode returns the TXT strings.
func (t BridgeTXT) Encode() []string {
	txt := []string{
		fmt.Sprintf("%s=%d", txtVersion, bridgeProtocolVersion),
	}
	if t.Segment != "" {
		txt = append(txt, txtSegment+"="+t.Segment)
	}
	if t.DeviceID != 0 {
		txt = append(txt, fmt.Sprintf("%s=%016x", txtDeviceID, t.DeviceID))
	}
	return txt
}

// ParseBridgeTXT decodes TXT strings. Unknown keys are ignored.
func ParseBridgeTXT(txt []string) BridgeTXT {
	var t BridgeTXT
	for _, kv := range txt {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case txtSegment:
			t.Segment = v
		case txtDeviceID:
			if id, err := strconv.ParseUint(v, 16, 64); err == nil {
				t.DeviceID = id
			}
		}
	}
	return t
}

// MDNSServer is the interface for a registered mDNS service.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
// This allows for dependency injection in tests.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Instance is the DNS-SD instance name. If empty, a random name is used.
	Instance string

	// Port is the UDP bridge port to advertise (default: DefaultPort).
	Port int

	// Interfaces restricts advertising to these interfaces. Nil means all.
	Interfaces []net.Interface

	// ServerFactory creates mDNS servers. If nil, grandcat/zeroconf is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes a UDP bridge via DNS-SD.
type Advertiser struct {
	config   AdvertiserConfig
	factory  MDNSServerFactory
	log      logging.LeveledLogger
	mu       sync.Mutex
	server   MDNSServer
	instance string
	closed   bool
}

// NewAdvertiser creates a new Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.Port <= 0 || config.Port > 65535 {
		config.Port = DefaultPort
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("transport-mdns")
	}
	return a
}

// Start begins advertising the bridge.
func (a *Advertiser) Start(txt BridgeTXT) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	instance := a.config.Instance
	if instance == "" {
		var err error
		instance, err = randomInstanceName()
		if err != nil {
			return fmt.Errorf("advertiser: instance name: %w", err)
		}
	}

	if a.log != nil {
		a.log.Debugf("registering mDNS service: instance=%s service=%s port=%d txt=%v",
			instance, ServiceBridge, a.config.Port, txt.Encode())
	}

	server, err := a.factory.Register(instance, ServiceBridge, DefaultDomain, a.config.Port, txt.Encode(), a.config.Interfaces)
	if err != nil {
		return fmt.Errorf("advertiser: mDNS registration failed: %w", err)
	}

	a.server = server
	a.instance = instance
	return nil
}

// Instance returns the advertised instance name, or "" when stopped.
func (a *Advertiser) Instance() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instance
}

// Close stops advertising.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	a.closed = true
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.instance = ""
	}
	return nil
}

func randomInstanceName() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("devbus-%016X", binary.BigEndian.Uint64(buf[:])), nil
}

// MDNSResolver browses for mDNS services.
//
// Browse sends entries until the context ends and then returns; it never
// closes the channel.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver adapts grandcat/zeroconf. A zeroconf resolver shuts
// down its sockets when a browse ends, so each browse gets a new one.
type zeroconfResolver struct{}

func (zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver()
	if err != nil {
		return err
	}

	found := make(chan *zeroconf.ServiceEntry)
	if err := r.Browse(ctx, service, domain, found); err != nil {
		return err
	}

	// zeroconf closes found when ctx ends.
	for e := range found {
		select {
		case entries <- e:
		case <-ctx.Done():
		}
	}
	return nil
}

// ResolvedService is a bridge found on the network.
type ResolvedService struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// HostName is the target host name.
	HostName string

	// Port is the bridge's UDP port.
	Port int

	// IPs are the resolved addresses, IPv4 first.
	IPs []net.IP

	// TXT is the decoded TXT record.
	TXT BridgeTXT
}

// PreferredIP returns the first address, or nil.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) > 0 {
		return r.IPs[0]
	}
	return nil
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying resolver. If nil, grandcat/zeroconf is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout bounds browses whose context has no deadline.
	BrowseTimeout time.Duration
}

// Resolver finds UDP bridges via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
}

// NewResolver creates a new Resolver.
func NewResolver(config ResolverConfig) *Resolver {
	resolver := config.MDNSResolver
	if resolver == nil {
		resolver = zeroconfResolver{}
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	return &Resolver{
		config:   config,
		resolver: resolver,
	}
}

// Browse streams bridges until the context ends or the browse timeout
// expires. The channel is closed when browsing stops.
func (r *Resolver) Browse(ctx context.Context) <-chan ResolvedService {
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	results := make(chan ResolvedService)
	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(entries)
		r.resolver.Browse(ctx, ServiceBridge, DefaultDomain, entries)
	}()

	go func() {
		defer cancel()
		defer close(results)
		for e := range entries {
			select {
			case results <- entryToResolvedService(e):
			case <-ctx.Done():
				// Drain so the browser can return.
				for range entries {
				}
				return
			}
		}
	}()

	return results
}

// DiscoverPeers browses for bridges of a segment and returns their UDP
// addresses, deduplicated. It blocks until the browse ends.
func (r *Resolver) DiscoverPeers(ctx context.Context, segment string) []net.Addr {
	seen := make(map[string]bool)
	var peers []net.Addr
	for svc := range r.Browse(ctx) {
		if segment != "" && svc.TXT.Segment != segment {
			continue
		}
		addr, err := PeerFromService(svc)
		if err != nil || seen[addr.String()] {
			continue
		}
		seen[addr.String()] = true
		peers = append(peers, addr)
	}
	return peers
}

func entryToResolvedService(e *zeroconf.ServiceEntry) ResolvedService {
	ips := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	ips = append(ips, e.AddrIPv4...)
	ips = append(ips, e.AddrIPv6...)
	return ResolvedService{
		Instance: e.Instance,
		HostName: e.HostName,
		Port:     e.Port,
		IPs:      ips,
		TXT:      ParseBridgeTXT(e.Text),
	}
}
