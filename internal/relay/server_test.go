package relay

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/stagerelay/internal/protocol/frame"
	"github.com/danmuck/stagerelay/internal/staging"
	"github.com/danmuck/stagerelay/internal/testutil/testlog"
)

func startServer(t *testing.T, cfg Config) (addr string, stop func()) {
	t.Helper()
	srv, err := NewServer("relay-test", cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()
	return ln.Addr().String(), func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("server did not stop")
		}
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg := DefaultConfig()
	cfg.ListenAddr = "  "
	if err := cfg.Validate(); !errors.Is(err, ErrMissingListenAddr) {
		t.Fatalf("expected missing listen addr, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.ReadChunkBytes = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidReadChunk) {
		t.Fatalf("expected invalid read chunk, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.InitialBufferBytes = cfg.MaxBufferBytes + 1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidBufferSize) {
		t.Fatalf("expected invalid buffer size, got %v", err)
	}
}

func TestEchoRoundTrip(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	addr, stop := startServer(t, cfg)
	defer stop()

	client, err := Dial(addr, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	payloads := [][]byte{
		[]byte("ping"),
		[]byte("a longer payload that still echoes"),
		bytes.Repeat([]byte("x"), 4096),
	}
	for i, payload := range payloads {
		reply, err := client.Exchange(uint32(i+1), payload)
		if err != nil {
			t.Fatalf("exchange %d: %v", i, err)
		}
		if reply.Header.Flags&frame.FlagIsResponse == 0 {
			t.Fatalf("exchange %d: response flag missing", i)
		}
		if reply.Header.MessageID != uint64(i+1) {
			t.Fatalf("exchange %d: message id=%d", i, reply.Header.MessageID)
		}
		if !bytes.Equal(reply.Payload, payload) {
			t.Fatalf("exchange %d: payload mismatch", i)
		}
	}
}

func TestEchoGrowsSmallSessionBuffers(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.InitialBufferBytes = 16
	addr, stop := startServer(t, cfg)
	defer stop()

	client, err := Dial(addr, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	payload := bytes.Repeat([]byte("grow"), 512)
	reply, err := client.Exchange(1, payload)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !bytes.Equal(reply.Payload, payload) {
		t.Fatalf("payload mismatch after growth")
	}
}

func TestFragmentedDeliveryStillEchoes(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	addr, stop := startServer(t, cfg)
	defer stop()

	staged, err := staging.New(256)
	if err != nil {
		t.Fatalf("staging: %v", err)
	}
	want := []byte("delivered in pieces")
	f := frame.Frame{Header: frame.Header{MessageID: 7, MessageType: 2}, Payload: want}
	if err := frame.Append(staged, f, cfg.Frame); err != nil {
		t.Fatalf("append: %v", err)
	}
	raw := append([]byte(nil), staged.Peek()...)

	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Trickle the frame a few bytes at a time so the server sees many
	// partial reads before the frame completes.
	for i := 0; i < len(raw); i += 5 {
		end := i + 5
		if end > len(raw) {
			end = len(raw)
		}
		if _, err := conn.Write(raw[i:end]); err != nil {
			t.Fatalf("write fragment: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	inbound, err := staging.New(256)
	if err != nil {
		t.Fatalf("staging: %v", err)
	}
	scratch := make([]byte, 1024)
	deadline := time.Now().Add(5 * time.Second)
	for {
		reply, ok, err := frame.Decode(inbound, cfg.Frame)
		if err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		if ok {
			if !bytes.Equal(reply.Payload, want) {
				t.Fatalf("payload mismatch: %q", reply.Payload)
			}
			if reply.Header.Flags&frame.FlagIsResponse == 0 {
				t.Fatalf("response flag missing")
			}
			return
		}
		_ = conn.SetReadDeadline(deadline)
		n, err := conn.Read(scratch)
		if n > 0 {
			if werr := inbound.Write(scratch[:n]); werr != nil {
				t.Fatalf("stage reply: %v", werr)
			}
		}
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
	}
}

func TestClientRecoversFromStagingRefusal(t *testing.T) {
	testlog.Start(t)
	addr, stop := startServer(t, DefaultConfig())
	defer stop()

	cfg := DefaultConfig()
	cfg.InitialBufferBytes = 32
	cfg.MaxBufferBytes = 64
	client, err := Dial(addr, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	// The header fits the outbound buffer but the payload pushes it past its
	// budget, so staging fails after the header is already in.
	big := bytes.Repeat([]byte("q"), 128)
	if _, err := client.Exchange(1, big); !errors.Is(err, staging.ErrCapacityLimit) {
		t.Fatalf("expected capacity limit, got %v", err)
	}

	// No orphaned header bytes may leak into the next frame.
	reply, err := client.Exchange(2, []byte("ok"))
	if err != nil {
		t.Fatalf("exchange after refusal: %v", err)
	}
	if string(reply.Payload) != "ok" {
		t.Fatalf("payload mismatch: %q", reply.Payload)
	}
	if reply.Header.MessageID != 2 {
		t.Fatalf("unexpected message id: %d", reply.Header.MessageID)
	}
}

func TestMalformedFrameClosesSession(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	addr, stop := startServer(t, cfg)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	bad := frame.EncodeHeader(frame.Header{
		Magic:     0x0BAD0BAD,
		Version:   frame.Version,
		HeaderLen: frame.FixedHeaderLen,
	})
	if _, err := conn.Write(bad); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected server to close the session")
	}
}

func TestStagingLimitFailsSessionOnly(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.InitialBufferBytes = 64
	cfg.MaxBufferBytes = 256
	addr, stop := startServer(t, cfg)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Announce more payload than the session's staging budget allows; the
	// bytes pile up inbound until the buffer refuses to grow.
	hdr := frame.EncodeHeader(frame.Header{
		Magic:      frame.Magic,
		Version:    frame.Version,
		HeaderLen:  frame.FixedHeaderLen,
		PayloadLen: 4096,
	})
	if _, err := conn.Write(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	junk := bytes.Repeat([]byte("z"), 4096)
	_, _ = conn.Write(junk)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected session to be dropped")
	}

	// The listener survives: a healthy session still works.
	client, err := Dial(addr, cfg)
	if err != nil {
		t.Fatalf("dial healthy: %v", err)
	}
	defer client.Close()
	reply, err := client.Exchange(1, []byte("still alive"))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if string(reply.Payload) != "still alive" {
		t.Fatalf("payload mismatch: %q", reply.Payload)
	}
}
