package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"translation-service/pkg/job"
)

// Deny-list of network ranges a fetch target may never resolve to. The
// 169.254.0.0/16 range covers the cloud metadata endpoint.
var deniedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("bad deny-list CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

func deniedIP(ip net.IP) bool {
	for _, n := range deniedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Guard validates fetch targets before any network retrieval. A hostname must
// not be, or resolve to, an address on the deny-list; when an allow-list is
// configured, any hostname off the list is rejected.
//
// TODO: hook this into http.Client.CheckRedirect so redirect targets are
// re-validated per hop; today only the initial hostname is checked, matching
// the behavior this service was ported from.
type Guard struct {
	allowedHosts map[string]struct{}
	lookup       func(ctx context.Context, host string) ([]net.IP, error)
	logger       *slog.Logger
}

func NewGuard(allowedHosts []string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, len(addrs))
			for i, a := range addrs {
				ips[i] = a.IP
			}
			return ips, nil
		},
		logger: logger,
	}
	if len(allowedHosts) > 0 {
		g.allowedHosts = make(map[string]struct{}, len(allowedHosts))
		for _, h := range allowedHosts {
			g.allowedHosts[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
		}
	}
	return g
}

// CheckURL rejects unsafe absolute URLs.
func (g *Guard) CheckURL(ctx context.Context, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return &job.FetchError{Kind: job.FetchUnsafe, Ref: raw, Err: err}
	}
	host := parsed.Hostname()
	if host == "" {
		return &job.FetchError{Kind: job.FetchUnsafe, Ref: raw, Err: fmt.Errorf("no hostname")}
	}

	if ip := net.ParseIP(host); ip != nil {
		if deniedIP(ip) {
			g.logger.Warn("ssrf guard: denied IP literal", "host", host)
			return &job.FetchError{Kind: job.FetchUnsafe, Ref: raw, Err: fmt.Errorf("address %s is not allowed", host)}
		}
	} else {
		ips, err := g.lookup(ctx, host)
		if err != nil {
			return &job.FetchError{Kind: job.FetchUnreachable, Ref: raw, Err: err}
		}
		for _, ip := range ips {
			if deniedIP(ip) {
				g.logger.Warn("ssrf guard: hostname resolves to denied address", "host", host, "ip", ip.String())
				return &job.FetchError{Kind: job.FetchUnsafe, Ref: raw, Err: fmt.Errorf("%s resolves to blocked address %s", host, ip)}
			}
		}
	}

	if g.allowedHosts != nil {
		if _, ok := g.allowedHosts[strings.ToLower(host)]; !ok {
			g.logger.Warn("ssrf guard: hostname not on allow-list", "host", host)
			return &job.FetchError{Kind: job.FetchUnsafe, Ref: raw, Err: fmt.Errorf("hostname %s is not on the allow-list", host)}
		}
	}
	return nil
}
