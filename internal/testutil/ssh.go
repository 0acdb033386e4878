package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

// SSHServer is a loopback SSH server that only serves direct-tcpip channels.
type SSHServer struct {
	ln      net.Listener
	HostKey ssh.Signer

	accepts atomic.Int32

	mu    sync.Mutex
	conns []*ssh.ServerConn
}

// StartSSHServer starts an SSHServer authenticating username/password. It is
// shut down when the test ends.
func StartSSHServer(t *testing.T, ctx context.Context, username, password string) *SSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() != username || string(pass) != password {
				return nil, errors.New("invalid credentials")
			}
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(signer)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &SSHServer{ln: ln, HostKey: signer}
	t.Cleanup(func() {
		_ = ln.Close()
		s.DropConns()
	})

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(ctx, c, cfg)
		}
	}()

	return s
}

func (s *SSHServer) Addr() string {
	return s.ln.Addr().String()
}

// Accepts returns how many SSH transports completed a handshake.
func (s *SSHServer) Accepts() int {
	return int(s.accepts.Load())
}

// DropConns closes every SSH transport without stopping the listener.
func (s *SSHServer) DropConns() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *SSHServer) serve(ctx context.Context, c net.Conn, cfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		_ = c.Close()
		return
	}
	s.accepts.Add(1)
	s.mu.Lock()
	s.conns = append(s.conns, sc)
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}

		var p struct {
			Host       string
			Port       uint32
			OriginHost string
			OriginPort uint32
		}
		if err := ssh.Unmarshal(nc.ExtraData(), &p); err != nil {
			_ = nc.Reject(ssh.Prohibited, "bad direct-tcpip payload")
			continue
		}

		var d net.Dialer
		dst, err := d.DialContext(ctx, "tcp", net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port))))
		if err != nil {
			_ = nc.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}

		ch, creqs, err := nc.Accept()
		if err != nil {
			_ = dst.Close()
			continue
		}
		go ssh.DiscardRequests(creqs)

		go func() {
			defer ch.Close()
			defer dst.Close()

			done := make(chan struct{}, 2)
			go func() {
				_, _ = io.Copy(dst, ch)
				if tc, ok := dst.(*net.TCPConn); ok {
					_ = tc.CloseWrite()
				}
				done <- struct{}{}
			}()
			go func() {
				_, _ = io.Copy(ch, dst)
				_ = ch.CloseWrite()
				done <- struct{}{}
			}()
			<-done
			<-done
		}()
	}
}
