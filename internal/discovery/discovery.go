// Package discovery advertises the XSIG listener over mDNS and finds advertised listeners.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/arloliu/go-xsig/internal/config"
	"github.com/arloliu/go-xsig/logger"
)

const (
	// ServiceType is the mDNS service type of XSIG listeners.
	ServiceType = "_xsig._tcp"
	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."
	// DefaultBrowseTimeout bounds Browse when the context has no deadline.
	DefaultBrowseTimeout = 3 * time.Second
)

type shutdowner interface {
	Shutdown()
}

// register is replaced in tests.
var register = func(instance, service, domain string, port int, text []string) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

// Advertiser keeps an mDNS registration alive until Shutdown.
type Advertiser struct {
	server shutdowner
	once   sync.Once
}

// Advertise registers the listener on port under cfg.Instance.
func Advertise(cfg config.DiscoveryConfig, port int, version string, l logger.Logger) (*Advertiser, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	service := cfg.Service
	if service == "" {
		service = ServiceType
	}
	domain := cfg.Domain
	if domain == "" {
		domain = ServiceDomain
	}

	srv, err := register(cfg.Instance, service, domain, port, TXTRecords(version))
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	l.Info("mDNS service registered", "instance", cfg.Instance, "service", service, "port", port)

	return &Advertiser{server: srv}, nil
}

// Shutdown withdraws the registration. It is idempotent.
func (a *Advertiser) Shutdown() {
	a.once.Do(a.server.Shutdown)
}

// TXTRecords returns the TXT records of an advertisement.
func TXTRecords(version string) []string {
	return []string{"version=" + version, "protocol=xsig"}
}

// Endpoint is an advertised XSIG listener.
type Endpoint struct {
	Instance string
	Host     string
	IP       string
	Port     int
	Metadata map[string]string
}

// Address returns the dialable host:port of e.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.IP, fmt.Sprint(e.Port))
}

// Browse collects the listeners advertised under service until ctx is done. A context without
// deadline is bounded by DefaultBrowseTimeout.
func Browse(ctx context.Context, service string) ([]Endpoint, error) {
	if service == "" {
		service = ServiceType
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Endpoint, 1)
	go func() {
		var found []Endpoint
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					done <- found
					return
				}
				if ep, ok := parseEntry(entry); ok {
					found = append(found, ep)
				}
			case <-ctx.Done():
				done <- found
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	return <-done, nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil || entry.Port == 0 {
		return Endpoint{}, false
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return Endpoint{}, false
	}

	metadata := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		k, v, _ := strings.Cut(txt, "=")
		metadata[k] = v
	}

	return Endpoint{
		Instance: entry.Instance,
		Host:     entry.HostName,
		IP:       ip,
		Port:     entry.Port,
		Metadata: metadata,
	}, true
}
