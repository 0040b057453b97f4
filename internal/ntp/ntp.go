// Package ntp implements a minimal SNTP client for the scheduler's
// drift probe (spec section 4.4). No example repo or ecosystem
// library in the retrieval pack provides an SNTP client (see
// DESIGN.md's open-question log), so this is hand-rolled against the
// NTPv4 wire format (RFC 5905 section 7.3), parameterized by a
// Transport so tests can inject a fake network -- the same
// clock/network-abstraction discipline the rest of this engine
// applies to venue calls.
package ntp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// Default servers probed by the scheduler's six-hourly drift check.
const (
	DefaultPrimaryServer  = "time.google.com:123"
	DefaultFallbackServer = "pool.ntp.org:123"
)

const (
	packetSize  = 48
	modeClient  = 3
	versionNTP4 = 4
	// ntpEpochOffset is the number of seconds between the NTP epoch
	// (1900-01-01) and the Unix epoch (1970-01-01).
	ntpEpochOffset = 2208988800
)

// Transport sends one NTP request packet and returns the raw
// response. UDPTransport implements it over UDP; tests supply a
// fake.
type Transport interface {
	Exchange(ctx context.Context, server string, request []byte) ([]byte, error)
}

// UDPTransport is the production Transport, one round trip per call.
type UDPTransport struct {
	Timeout time.Duration
}

// Exchange dials server over UDP, sends request, and returns the
// reply or ctx's deadline error.
func (t UDPTransport) Exchange(ctx context.Context, server string, request []byte) ([]byte, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return nil, fmt.Errorf("ntp: dial %s: %w", server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("ntp: write to %s: %w", server, err)
	}

	resp := make([]byte, packetSize)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("ntp: read from %s: %w", server, err)
	}
	if n < packetSize {
		return nil, fmt.Errorf("ntp: short reply from %s (%d bytes)", server, n)
	}
	return resp, nil
}

// Probe is a stateless SNTP client over a Transport and a local
// clock, used to compute offset-from-local drift.
type Probe struct {
	transport Transport
	now       func() time.Time
}

// NewProbe constructs a Probe. now is injected so tests can pin the
// local reference time; nil defaults to time.Now.
func NewProbe(transport Transport, now func() time.Time) *Probe {
	if now == nil {
		now = time.Now
	}
	return &Probe{transport: transport, now: now}
}

// Result is one successful NTP round trip's drift measurement.
type Result struct {
	Server    string
	DriftMs   int64 // local clock minus server clock, in milliseconds
	RoundTrip time.Duration
}

// Query performs one NTP round trip against server and returns the
// measured drift.
func (p *Probe) Query(ctx context.Context, server string) (Result, error) {
	req := buildRequest()
	sent := p.now()

	resp, err := p.transport.Exchange(ctx, server, req)
	if err != nil {
		return Result{}, err
	}
	received := p.now()

	serverTime, err := parseTransmitTimestamp(resp)
	if err != nil {
		return Result{}, err
	}

	roundTrip := received.Sub(sent)
	// Estimate the server's clock at receipt by adding half the round
	// trip to the transmit timestamp, then compare to our local clock.
	estimatedServerNow := serverTime.Add(roundTrip / 2)
	driftMs := received.Sub(estimatedServerNow).Milliseconds()

	return Result{Server: server, DriftMs: driftMs, RoundTrip: roundTrip}, nil
}

// QueryWithRetry attempts server up to attempts times with delay
// between failures, matching the scheduler's "three retry attempts,
// 2s delay" contract for the primary server.
func (p *Probe) QueryWithRetry(ctx context.Context, server string, attempts int, delay time.Duration) (Result, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := p.Query(ctx, server)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return Result{}, fmt.Errorf("ntp: all %d attempts against %s failed: %w", attempts, server, lastErr)
}

func buildRequest() []byte {
	packet := make([]byte, packetSize)
	packet[0] = versionNTP4<<3 | modeClient
	return packet
}

// parseTransmitTimestamp reads the 64-bit transmit timestamp
// (seconds since 1900, big-endian, at byte offset 40) out of an NTP
// reply and converts it to a Unix time.
func parseTransmitTimestamp(resp []byte) (time.Time, error) {
	if len(resp) < packetSize {
		return time.Time{}, fmt.Errorf("ntp: reply too short (%d bytes)", len(resp))
	}
	seconds := binary.BigEndian.Uint32(resp[40:44])
	fraction := binary.BigEndian.Uint32(resp[44:48])

	secs := int64(seconds) - ntpEpochOffset
	nanos := int64(float64(fraction) * (1e9 / (1 << 32)))
	return time.Unix(secs, nanos).UTC(), nil
}
