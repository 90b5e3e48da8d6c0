package klhdv

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// Sample is a fully resolved, short-lived telemetry reading delivered to a
// subscriber's callback. It carries no aggregation identity of its own.
type Sample struct {
	ProviderID  uint16
	ChannelID   uint16
	ChannelName string
	TimestampMs uint32
	Value       float32
}

// TransportConfig describes how to reach the multicast group.
type TransportConfig struct {
	Group     string // multicast group address, e.g. "224.0.2.10"
	Port      int
	Interface string // IPv4 address or hostname; resolved below
}

// Stats is the transport statistics returned when a Subscribe call stops.
type Stats struct {
	FramesTotal    int64
	FramesDropped  int64
	NonProvider    int64
	SamplesOut     int64
}

// TransportError wraps a fatal socket-level failure: bind, join, or
// interface resolution. It is escalated to the health monitor by the caller.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("klhdv: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// resolveInterface: the configured string is tried as a
// literal IPv4 address first, falling back to DNS resolution. Failure is a
// clear, specific error rather than a generic socket error.
func resolveInterface(iface string) (*net.Interface, net.IP, error) {
	if iface == "" {
		return nil, nil, nil
	}
	ip := net.ParseIP(iface)
	if ip == nil {
		addrs, err := net.LookupIP(iface)
		if err != nil || len(addrs) == 0 {
			return nil, nil, fmt.Errorf("resolve interface %q: %w", iface, err)
		}
		ip = addrs[0]
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate interfaces: %w", err)
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return &ifaces[i], ip, nil
			}
		}
	}
	return nil, ip, fmt.Errorf("no local interface carries address %s", ip)
}

func (c TransportConfig) openMulticast() (*net.UDPConn, *ipv4.PacketConn, error) {
	ifc, _, err := resolveInterface(c.Interface)
	if err != nil {
		return nil, nil, &TransportError{Op: "resolve interface", Err: err}
	}

	grpAddr := &net.UDPAddr{IP: net.ParseIP(c.Group), Port: c.Port}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: c.Port})
	if err != nil {
		return nil, nil, &TransportError{Op: "bind socket", Err: err}
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifc, grpAddr); err != nil {
		conn.Close()
		return nil, nil, &TransportError{Op: "join multicast group", Err: err}
	}
	return conn, pc, nil
}

// Discover broadcasts a RequestChannelInfo and collects ChannelInfo replies
// until timeout elapses or ctx is cancelled. Individual malformed replies are
// silently skipped; interface/socket failures are fatal and returned.
func Discover(ctx context.Context, cfg TransportConfig, timeout time.Duration) ([]*ProviderInfo, error) {
	conn, pc, err := cfg.openMulticast()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	defer pc.Close()

	seq := uint8(rand.Intn(256))
	host := uint16(rand.Intn(1 << 16))
	req := EncodeFrame(KeyRequestChannelInfo, host, seq, DestBroadcast, nil)

	dst := &net.UDPAddr{IP: net.ParseIP(cfg.Group), Port: cfg.Port}
	if _, err := conn.WriteToUDP(req, dst); err != nil {
		return nil, &TransportError{Op: "send discovery request", Err: err}
	}

	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)

	buf := make([]byte, 65535)
	var providers []*ProviderInfo
	seen := make(map[uint16]bool)
	for {
		select {
		case <-ctx.Done():
			return providers, nil
		default:
		}
		if time.Now().After(deadline) {
			return providers, nil
		}
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return providers, nil
		}
		frame, err := DecodeFrame(buf[:n])
		if err != nil || frame.Header.Key != KeyChannelInfo {
			continue
		}
		payload, err := DecodeChannelInfo(frame.Value)
		if err != nil {
			continue
		}
		if seen[frame.Header.Host] {
			continue
		}
		seen[frame.Header.Host] = true
		host := ""
		port := cfg.Port
		if src != nil {
			host = src.IP.String()
			port = src.Port
		}
		providers = append(providers, NewProviderInfo(frame.Header.Host, host, port, payload))
	}
}

// SubscribeOptions configures a Subscribe call.
type SubscribeOptions struct {
	Channels []string // channel names to deliver; empty means all
}

// Subscribe binds a socket, pins to the given provider, decodes
// ChannelValues frames, and invokes onSample per sample in arrival order.
// It blocks until ctx is cancelled or a fatal socket error occurs, then
// returns accumulated transport statistics.
func Subscribe(ctx context.Context, cfg TransportConfig, provider *ProviderInfo, opts SubscribeOptions, onSample func(Sample)) (Stats, error) {
	conn, pc, err := cfg.openMulticast()
	if err != nil {
		return Stats{}, err
	}
	defer conn.Close()
	defer pc.Close()

	wanted := make(map[string]bool, len(opts.Channels))
	for _, c := range opts.Channels {
		wanted[c] = true
	}

	var stats Stats
	buf := make([]byte, 65535)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return stats, nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-done:
				return stats, nil
			default:
			}
			return stats, &TransportError{Op: "recv", Err: err}
		}

		stats.FramesTotal++
		frame, err := DecodeFrame(buf[:n])
		if err != nil {
			stats.FramesDropped++
			continue
		}
		if frame.Header.Key != KeyChannelValues {
			continue
		}
		// provider pinning: required to avoid metric cross-contamination.
		if provider != nil && frame.Header.Host != provider.ID {
			stats.NonProvider++
			continue
		}
		raw, err := DecodeChannelValues(frame.Value)
		if err != nil {
			stats.FramesDropped++
			continue
		}
		for _, r := range raw {
			name := ResolveChannelName(provider, r.ChannelID)
			if len(wanted) > 0 && !wanted[name] {
				continue
			}
			stats.SamplesOut++
			onSample(Sample{
				ProviderID:  frame.Header.Host,
				ChannelID:   r.ChannelID,
				ChannelName: name,
				TimestampMs: r.TimestampMs,
				Value:       r.Value,
			})
		}
	}
}

// PublishOptions configures a Publish call.
type PublishOptions struct {
	PlaybackRate float64 // not read by Publish; pacing comes only from its limiter
	Loop         bool
}

// Publish emits ChannelValues frames for the given samples, optionally
// looping, until ctx is cancelled. Each frame waits on limiter; a nil
// limiter sends as fast as possible. opts.PlaybackRate does not affect pacing.
func Publish(ctx context.Context, cfg TransportConfig, providerID uint16, samples []Sample, opts PublishOptions, limiter Limiter) error {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(cfg.Group), Port: cfg.Port})
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	defer conn.Close()

	seq := uint8(0)
	for {
		for _, s := range samples {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			raw := []RawSample{{ChannelID: s.ChannelID, TimestampMs: s.TimestampMs, Value: s.Value}}
			frame := EncodeFrame(KeyChannelValues, providerID, seq, DestBroadcast, EncodeChannelValues(raw))
			seq++
			if _, err := conn.Write(frame); err != nil {
				return &TransportError{Op: "send", Err: err}
			}
		}
		if !opts.Loop {
			return nil
		}
	}
}

// Limiter paces Publish; golang.org/x/time/rate.Limiter satisfies this.
type Limiter interface {
	Wait(ctx context.Context) error
}
