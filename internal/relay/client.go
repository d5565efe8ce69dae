package relay

import (
	"fmt"
	"net"
	"time"

	"github.com/danmuck/stagerelay/internal/protocol/frame"
	"github.com/danmuck/stagerelay/internal/staging"
)

// Client is the probe side of a relay session. It stages outbound frames and
// reassembles inbound ones through its own pair of staging buffers, so both
// ends of the wire run the same contract.
type Client struct {
	conn     net.Conn
	cfg      Config
	inbound  *staging.Buffer
	outbound *staging.Buffer
	scratch  []byte
	nextID   uint64
}

func Dial(addr string, cfg Config) (*Client, error) {
	dialer := net.Dialer{Timeout: cfg.ReadTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", addr, err)
	}
	inbound, err := staging.NewWithLimits(cfg.InitialBufferBytes, cfg.stagingLimits())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	outbound, err := staging.NewWithLimits(cfg.InitialBufferBytes, cfg.stagingLimits())
	if err != nil {
		inbound.Release()
		_ = conn.Close()
		return nil, err
	}
	return &Client{
		conn:     conn,
		cfg:      cfg,
		inbound:  inbound,
		outbound: outbound,
		scratch:  make([]byte, cfg.ReadChunkBytes),
	}, nil
}

// Exchange sends one frame and blocks until its echo arrives.
func (c *Client) Exchange(messageType uint32, payload []byte) (frame.Frame, error) {
	c.nextID++
	out := frame.Frame{
		Header:  frame.Header{MessageID: c.nextID, MessageType: messageType},
		Payload: payload,
	}
	if err := frame.Append(c.outbound, out, c.cfg.Frame); err != nil {
		// Append can fail mid-frame once the header is staged; drop whatever
		// made it in so the next exchange starts from a clean stream.
		c.outbound.Skip(c.outbound.Len())
		return frame.Frame{}, err
	}
	for c.outbound.Len() > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		n, err := c.conn.Write(c.outbound.Peek())
		c.outbound.Skip(n)
		if err != nil {
			return frame.Frame{}, err
		}
	}

	for {
		f, ok, err := frame.Decode(c.inbound, c.cfg.Frame)
		if err != nil {
			return frame.Frame{}, err
		}
		if ok {
			return f, nil
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		n, err := c.conn.Read(c.scratch)
		if n > 0 {
			if werr := c.inbound.Write(c.scratch[:n]); werr != nil {
				return frame.Frame{}, werr
			}
		}
		if err != nil {
			return frame.Frame{}, err
		}
	}
}

func (c *Client) Close() error {
	c.inbound.Release()
	c.outbound.Release()
	return c.conn.Close()
}
