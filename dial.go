package prontoscript

import (
	"net"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// looksDotted reports whether host is shaped like a dotted-quad IPv4
// literal: every character is a digit or a dot. This is an exact port
// of the original connect/send code's scan, which routes a
// dotted-shaped-but-invalid string (like "1.2.3.4.5") down the literal
// path instead of treating it as a name to resolve.
func looksDotted(host string) bool {
	if host == "" {
		return false
	}
	for _, c := range host {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}

// resolveIPv4 resolves host to an IPv4 address, taking the dotted-quad
// fast path when the string is shaped like a literal and otherwise
// issuing an explicit A-record DNS query, using the first answer
// returned.
func resolveIPv4(host string) ([4]byte, error) {
	if looksDotted(host) {
		ip := net.ParseIP(host)
		if ip == nil {
			return [4]byte{}, errors.Errorf("invalid dotted-quad address %q", host)
		}
		ip4 := ip.To4()
		if ip4 == nil {
			return [4]byte{}, errors.Errorf("invalid dotted-quad address %q", host)
		}
		var out [4]byte
		copy(out[:], ip4)
		return out, nil
	}
	return resolveIPv4ByName(host)
}

func resolveIPv4ByName(host string) ([4]byte, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return [4]byte{}, errors.Wrap(err, "read resolver configuration")
	}
	if conf == nil || len(conf.Servers) == 0 {
		return [4]byte{}, errors.New("read resolver configuration: no nameserver configured")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	c := new(dns.Client)
	server := net.JoinHostPort(conf.Servers[0], conf.Port)
	r, _, err := c.Exchange(m, server)
	if err != nil {
		return [4]byte{}, errors.Wrapf(err, "resolve %q", host)
	}

	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			if ip4 := a.A.To4(); ip4 != nil {
				var out [4]byte
				copy(out[:], ip4)
				return out, nil
			}
		}
	}
	return [4]byte{}, errors.Errorf("no A record found for %q", host)
}
