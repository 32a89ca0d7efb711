package middleware

// identity.go resolves the caller's network identity.  Portal requests
// arrive from LAN clients whose MAC is the durable identity key; the IP
// is only a hint that changes with every DHCP lease.  The MAC is read
// from the kernel ARP table, which on the gateway box always has a fresh
// entry for any client currently talking to us.

import (
	"bufio"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
)

// identityKey is the context key the resolved identity is stored under.
const identityKey = "client_identity"

// arpTablePath is a var so tests can point it at a fixture.
var arpTablePath = "/proc/net/arp"

// ClientIdentity returns middleware that resolves the caller's MAC from
// its IP and stores an engine.Identity in the request context.  When the
// ARP table has no entry (proxied requests, tests, non-gateway deploys)
// a stable pseudo-MAC is derived from the IP so the same client keeps
// hitting the same session.
func ClientIdentity(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			mac, err := arpLookup(ip)
			if err != nil || mac == "" {
				mac = pseudoMAC(ip)
				log.Debug().Str("ip", ip).Str("mac", mac).Msg("no arp entry, using derived identity")
			}
			c.Set(identityKey, engine.Identity{MAC: mac, IP: ip})
			return next(c)
		}
	}
}

// ClientFrom returns the identity stored by ClientIdentity.  The zero
// value means the middleware was not applied.
func ClientFrom(c echo.Context) engine.Identity {
	if id, ok := c.Get(identityKey).(engine.Identity); ok {
		return id
	}
	return engine.Identity{}
}

// arpLookup scans the kernel ARP table for the given IP and returns its
// MAC.  An all-zero hardware address means the entry is incomplete and
// is treated as absent.
func arpLookup(ip string) (string, error) {
	f, err := os.Open(arpTablePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header row
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		mac := strings.ToLower(fields[3])
		if mac == "00:00:00:00:00:00" {
			return "", nil
		}
		return mac, nil
	}
	return "", scanner.Err()
}

// pseudoMAC derives a stable locally-administered MAC from an IP, so an
// unresolvable client still maps to a consistent session key.
func pseudoMAC(ip string) string {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(ip))
	b := u[:6]
	b[0] = (b[0] | 0x02) &^ 0x01 // locally administered, unicast
	hex := "0123456789abcdef"
	out := make([]byte, 0, 17)
	for i, v := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hex[v>>4], hex[v&0x0f])
	}
	return string(out)
}
