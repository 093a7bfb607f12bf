package lookupd

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// ResolvedAddress is one A/AAAA answer, carrying the TTL the authoritative
// server returned (in seconds).
type ResolvedAddress struct {
	Address string
	TTL     int
}

// ResolveFunc performs a single-family lookup for host. It is the shape the
// Throttle (C8) wraps.
type ResolveFunc func(ctx context.Context, host string) ([]ResolvedAddress, error)

// Resolver issues network A/AAAA queries. It never consults or updates the
// controller's cache; TTL bookkeeping and caching are the controller's job.
type Resolver interface {
	Resolve4(ctx context.Context, host string) ([]ResolvedAddress, error)
	Resolve6(ctx context.Context, host string) ([]ResolvedAddress, error)
}

// NetResolver is the default Resolver, built on github.com/miekg/dns so the
// controller can issue plain A/AAAA queries without going through the OS's
// blocking getaddrinfo call. It round-robins across Servers on each query.
type NetResolver struct {
	// Servers is the list of upstream "host:port" nameservers to query.
	// Defaults to the system's /etc/resolv.conf servers, with DNS port 53
	// appended, if left empty.
	Servers []string
	// Network is "udp" or "tcp". Defaults to "udp".
	Network string
	// Timeout bounds a single exchange. Defaults to 5s.
	Timeout time.Duration

	client   *dns.Client
	nextIdx  atomic.Uint32
	initOnce initGuard
}

// initGuard performs lazy, idempotent setup without importing sync.Once
// into the zero-value story (NetResolver{} must work out of the box).
type initGuard struct{ done atomic.Bool }

func (g *initGuard) do(f func()) {
	if g.done.CompareAndSwap(false, true) {
		f()
	}
}

func NewNetResolver(servers ...string) *NetResolver {
	return &NetResolver{Servers: servers}
}

func (r *NetResolver) ensureInit() {
	r.initOnce.do(func() {
		if r.Network == "" {
			r.Network = "udp"
		}
		if r.Timeout == 0 {
			r.Timeout = 5 * time.Second
		}
		r.client = &dns.Client{Net: r.Network, Timeout: r.Timeout}
		if len(r.Servers) == 0 {
			if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
				for _, s := range conf.Servers {
					r.Servers = append(r.Servers, net.JoinHostPort(s, conf.Port))
				}
			}
		}
	})
}

func (r *NetResolver) nextServer() (string, error) {
	r.ensureInit()
	if len(r.Servers) == 0 {
		return "", NewLookupError(CodeNotInitialized, "", errors.New("no nameservers configured"))
	}
	idx := r.nextIdx.Add(1) - 1
	return r.Servers[idx%uint32(len(r.Servers))], nil
}

func (r *NetResolver) Resolve4(ctx context.Context, host string) ([]ResolvedAddress, error) {
	return r.query(ctx, host, dns.TypeA)
}

func (r *NetResolver) Resolve6(ctx context.Context, host string) ([]ResolvedAddress, error) {
	return r.query(ctx, host, dns.TypeAAAA)
}

func (r *NetResolver) query(ctx context.Context, host string, qtype uint16) ([]ResolvedAddress, error) {
	server, err := r.nextServer()
	if err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, r.classifyTransportError(host, err)
	}

	if err := classifyRcode(in.Rcode, host); err != nil {
		return nil, err
	}

	var out []ResolvedAddress
	for _, rr := range in.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			out = append(out, ResolvedAddress{Address: rec.A.String(), TTL: int(rec.Hdr.Ttl)})
		case *dns.AAAA:
			out = append(out, ResolvedAddress{Address: rec.AAAA.String(), TTL: int(rec.Hdr.Ttl)})
		}
	}
	return out, nil
}

func (r *NetResolver) classifyTransportError(host string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return NewLookupError(CodeTimeout, host, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewLookupError(CodeTimeout, host, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewLookupError(CodeCancelled, host, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewLookupError(CodeConnRefused, host, err)
	}
	return NewLookupError(CodeServFail, host, err)
}

func classifyRcode(rcode int, host string) error {
	switch rcode {
	case dns.RcodeSuccess:
		return nil
	case dns.RcodeNameError:
		return NewLookupError(CodeNotFound, host, nil)
	case dns.RcodeServerFailure:
		return NewLookupError(CodeServFail, host, nil)
	case dns.RcodeRefused:
		return NewLookupError(CodeRefused, host, nil)
	case dns.RcodeFormatError:
		return NewLookupError(CodeFormErr, host, nil)
	case dns.RcodeNotImplemented:
		return NewLookupError(CodeNotImp, host, nil)
	default:
		return NewLookupError(CodeBadResp, host, nil)
	}
}
