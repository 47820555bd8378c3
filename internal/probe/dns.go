package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Resolver classes reported by DNSClassifier.
const (
	ClassResolves      = "RESOLVES"
	ClassNXDomain      = "NXDOMAIN"
	ClassNoARecord     = "NO_A_RECORD"
	ClassServfail      = "SERVFAIL_or_TIMEOUT"
	ClassInvalidDomain = "INVALID_NAME"
)

type DNSStatus struct {
	Domain        string
	IPs           []net.IP
	CNAME         string
	Nameservers   []string
	Class         string
	ResolverError string
}

// DNSClassifier explains why a host was unreachable. It is only consulted
// after a probe has already failed.
type DNSClassifier struct {
	Resolver *net.Resolver
	Timeout  time.Duration
}

func NewDNSClassifier() *DNSClassifier {
	return &DNSClassifier{Resolver: net.DefaultResolver, Timeout: 3 * time.Second}
}

func (d *DNSClassifier) Classify(ctx context.Context, host string) DNSStatus {
	s := DNSStatus{Domain: strings.TrimSpace(host)}
	if s.Domain == "" || strings.Contains(s.Domain, "://") {
		s.Class = ClassInvalidDomain
		return s
	}
	if net.ParseIP(s.Domain) != nil {
		s.Class = ClassResolves
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	r := d.Resolver
	if r == nil {
		r = net.DefaultResolver
	}

	ips, err := r.LookupIP(ctx, "ip", s.Domain)
	switch {
	case err == nil && len(ips) > 0:
		s.IPs = ips
		s.Class = ClassResolves
	case err != nil:
		s.ResolverError = err.Error()
		var de *net.DNSError
		if errors.As(err, &de) {
			if de.IsNotFound {
				s.Class = ClassNXDomain
			} else if de.IsTemporary || de.Timeout() {
				s.Class = ClassServfail
			}
		}
	}

	if cname, err := r.LookupCNAME(ctx, s.Domain); err == nil && !strings.EqualFold(cname, s.Domain+".") {
		s.CNAME = strings.TrimSuffix(cname, ".")
	}

	if ns, err := r.LookupNS(ctx, s.Domain); err == nil && len(ns) > 0 {
		for _, n := range ns {
			s.Nameservers = append(s.Nameservers, strings.TrimSuffix(n.Host, "."))
		}
		// the zone exists, only the address record is missing
		if s.Class == ClassNXDomain {
			s.Class = ClassNoARecord
		}
	}

	if s.Class == "" {
		switch {
		case len(s.Nameservers) > 0:
			s.Class = ClassNoARecord
		case s.ResolverError != "":
			s.Class = ClassServfail
		default:
			s.Class = ClassNXDomain
		}
	}
	return s
}
