package supervisor

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"signally/channel"
	"signally/fault"
)

// ingestURL is where the channel's encoder publishes.
func (s *Supervisor) ingestURL(ch *channel.Channel) string {
	return fmt.Sprintf("rtmp://%s/%s/%s", s.ingestAddr(), s.opts.IngestApp, ch.StreamName())
}

func (s *Supervisor) ingestAddr() string {
	return net.JoinHostPort(s.opts.IngestHost, strconv.Itoa(s.opts.IngestPort))
}

// preflight checks that the media server accepts TCP connections. No protocol
// handshake is attempted.
func (s *Supervisor) preflight(ctx context.Context) error {
	dialer := net.Dialer{Timeout: s.opts.IngestTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.ingestAddr())
	if err != nil {
		return fault.Wrap(fault.UpstreamUnreachable, err, "media server %s", s.ingestAddr())
	}
	_ = conn.Close()
	return nil
}
