package conn

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/skv/rpc/wire"
)

// startFakeNode starts a listener that runs handler for every accepted
// connection and returns its address.
func startFakeNode(t *testing.T, handler func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(c)
		}
	}()
	return ln.Addr().String()
}

// readRequestFrame reads one complete frame from the server side
func readRequestFrame(c net.Conn) (wire.ProtoHeader, []byte, error) {
	var hdrBuf [wire.ProtoHeaderSize]byte
	if _, err := io.ReadFull(c, hdrBuf[:]); err != nil {
		return wire.ProtoHeader{}, nil, err
	}
	hdr, err := wire.ParseProtoHeader(hdrBuf[:])
	if err != nil {
		return wire.ProtoHeader{}, nil, err
	}
	payload := make([]byte, hdr.Size)
	if _, err := io.ReadFull(c, payload); err != nil {
		return wire.ProtoHeader{}, nil, err
	}
	return hdr, payload, nil
}

// writeAdminResponse sends an admin response with the given result code
func writeAdminResponse(c net.Conn, code wire.ResultCode) {
	frame := make([]byte, wire.ProtoHeaderSize+16)
	wire.EncodeProtoHeader(frame[0:8], wire.ProtoTypeSecurity, 16)
	frame[wire.ProtoHeaderSize+1] = uint8(code)
	_, _ = c.Write(frame)
}

// infoEchoHandler answers every info request with a fixed response
func infoEchoHandler(response string) func(net.Conn) {
	return func(c net.Conn) {
		defer c.Close()
		for {
			if _, _, err := readRequestFrame(c); err != nil {
				return
			}
			frame := make([]byte, wire.ProtoHeaderSize+len(response))
			wire.EncodeProtoHeader(frame[0:8], wire.ProtoTypeInfo, int64(len(response)))
			copy(frame[wire.ProtoHeaderSize:], response)
			if _, err := c.Write(frame); err != nil {
				return
			}
		}
	}
}

// ----- Connection -----

func TestConnectionFrameRoundTrip(t *testing.T) {
	addr := startFakeNode(t, infoEchoHandler("node\tA1\n"))

	c, err := NewConnection(addr, time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	buf := wire.NewBuffer()
	if err := buf.SetInfo("node"); err != nil {
		t.Fatalf("failed to build info request: %v", err)
	}
	if err := c.WriteFrame(buf.Bytes()); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}

	hdr, payload, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	if hdr.Type != wire.ProtoTypeInfo {
		t.Errorf("expected info frame, got type %d", hdr.Type)
	}
	values, err := wire.ParseInfoResponse(payload)
	if err != nil {
		t.Fatalf("failed to parse info response: %v", err)
	}
	if values["node"] != "A1" {
		t.Errorf("unexpected info values %v", values)
	}
}

func TestConnectionReadTimeout(t *testing.T) {
	// server that never answers
	addr := startFakeNode(t, func(c net.Conn) {
		_, _, _ = readRequestFrame(c)
		time.Sleep(5 * time.Second)
		_ = c.Close()
	})

	c, err := NewConnection(addr, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	buf := wire.NewBuffer()
	_ = buf.SetInfo("node")
	if err := c.WriteFrame(buf.Bytes()); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
	if _, _, err := c.ReadFrame(); err == nil {
		t.Error("expected timeout error reading from silent server")
	}
}

func TestConnectionRejectsBadHeader(t *testing.T) {
	addr := startFakeNode(t, func(c net.Conn) {
		defer c.Close()
		if _, _, err := readRequestFrame(c); err != nil {
			return
		}
		var frame [wire.ProtoHeaderSize]byte
		binary.BigEndian.PutUint64(frame[:], uint64(9)<<56)
		_, _ = c.Write(frame[:])
		time.Sleep(time.Second)
	})

	c, err := NewConnection(addr, time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	buf := wire.NewBuffer()
	_ = buf.SetInfo("node")
	if err := c.WriteFrame(buf.Bytes()); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
	if _, _, err := c.ReadFrame(); err == nil {
		t.Error("expected error for unsupported protocol version")
	}
}

func TestConnectionIsIdle(t *testing.T) {
	addr := startFakeNode(t, infoEchoHandler("ok\n"))
	c, err := NewConnection(addr, time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	if c.IsIdle(time.Minute) {
		t.Error("fresh connection must not be idle")
	}
	if c.IsIdle(0) {
		t.Error("zero idle timeout disables eviction")
	}
	time.Sleep(20 * time.Millisecond)
	if !c.IsIdle(time.Millisecond) {
		t.Error("connection unused past the timeout must be idle")
	}
}

// ----- Authenticator -----

func TestAuthenticatorLogin(t *testing.T) {
	tests := []struct {
		name    string
		code    wire.ResultCode
		wantErr bool
	}{
		{name: "accepted", code: wire.ResultOk},
		{name: "security disabled", code: wire.ResultSecurityNotEnabled},
		{name: "invalid credential", code: wire.ResultInvalidCredential, wantErr: true},
		{name: "invalid user", code: wire.ResultInvalidUser, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := startFakeNode(t, func(c net.Conn) {
				defer c.Close()
				hdr, payload, err := readRequestFrame(c)
				if err != nil {
					return
				}
				if hdr.Type != wire.ProtoTypeSecurity || payload[2] != 20 {
					writeAdminResponse(c, wire.ResultInvalidCommand)
					return
				}
				writeAdminResponse(c, tt.code)
			})

			auth, err := NewAuthenticator("tester", "secret")
			if err != nil {
				t.Fatalf("failed to create authenticator: %v", err)
			}
			conn, err := NewConnection(addr, time.Second)
			if err != nil {
				t.Fatalf("failed to connect: %v", err)
			}
			defer conn.Close()

			err = auth.Login(conn)
			if tt.wantErr && err == nil {
				t.Error("expected login to fail")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected login to succeed, got %v", err)
			}
		})
	}
}

func TestNewAuthenticatorWithoutCredentials(t *testing.T) {
	auth, err := NewAuthenticator("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != nil {
		t.Error("expected nil authenticator without credentials")
	}
}
