// Package sshxtest provides an in-process SSH server for tests.
package sshxtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	// User is the only user accepted by the server.
	User = "runner"
	// Password is the password of User.
	Password = "secret"
)

// Exec is a command received by the server.
type Exec struct {
	Command string
	Channel ssh.Channel
	// Signals receives the names of the signals sent by the client. It is
	// closed once the client closed the channel.
	Signals <-chan string
}

// Handler runs a command on the server. The handler is responsible for
// reporting an exit status and closing the channel.
type Handler func(exec *Exec)

// Server accepts password authentication for User and hands exec requests
// to its handler. It serves sftp on the local file system and forwards
// direct-tcpip channels, so that it can also be used as a bastion host.
type Server struct {
	Host    string
	Port    int
	HostKey ssh.PublicKey

	handle Handler
	config *ssh.ServerConfig
}

// NewServer starts a server that is stopped when the test ends.
func NewServer(t testing.TB, handle Handler) *Server {
	t.Helper()

	_, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(private)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == User && string(password) == Password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	server := &Server{
		HostKey: signer.PublicKey(),
		handle:  handle,
		config:  config,
	}
	server.Host, server.Port = splitAddress(t, listener.Addr())

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go server.serve(conn)
		}
	}()

	return server
}

// NewSilentListener accepts TCP connections but never speaks SSH on them.
func NewSilentListener(t testing.TB) (string, int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		listener.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	return splitAddress(t, listener.Addr())
}

// ExitWithStatus reports the exit status and closes the channel.
func ExitWithStatus(channel ssh.Channel, status uint32) {
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	channel.Close()
}

// ExitWithSignal reports a termination signal and closes the channel.
func ExitWithSignal(channel ssh.Channel, signal string) {
	channel.SendRequest("exit-signal", false, ssh.Marshal(struct {
		Signal     string
		CoreDumped bool
		Error      string
		Lang       string
	}{Signal: signal}))
	channel.Close()
}

func (s *Server) serve(conn net.Conn) {
	serverConn, channels, requests, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(requests)

	for newChannel := range channels {
		switch newChannel.ChannelType() {
		case "session":
			go s.session(newChannel)
		case "direct-tcpip":
			go forward(newChannel)
		default:
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

func (s *Server) session(newChannel ssh.NewChannel) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}

	signals := make(chan string, 8)
	defer close(signals)

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			go s.handle(&Exec{
				Command: payload.Command,
				Channel: channel,
				Signals: signals,
			})
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			go func() {
				defer channel.Close()
				server, err := sftp.NewServer(channel)
				if err != nil {
					return
				}
				server.Serve()
				server.Close()
			}()
		case "signal":
			var payload struct{ Signal string }
			if err := ssh.Unmarshal(req.Payload, &payload); err == nil {
				select {
				case signals <- payload.Signal:
				default:
				}
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// forward connects a direct-tcpip channel to its destination.
func forward(newChannel ssh.NewChannel) {
	var payload struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(newChannel.ExtraData(), &payload); err != nil {
		newChannel.Reject(ssh.ConnectionFailed, "malformed request")
		return
	}

	target, err := net.Dial("tcp", net.JoinHostPort(payload.Host, strconv.Itoa(int(payload.Port))))
	if err != nil {
		newChannel.Reject(ssh.ConnectionFailed, err.Error())
		return
	}

	channel, requests, err := newChannel.Accept()
	if err != nil {
		target.Close()
		return
	}
	go ssh.DiscardRequests(requests)

	go func() {
		io.Copy(target, channel)
		target.Close()
	}()
	io.Copy(channel, target)
	channel.Close()
}

func splitAddress(t testing.TB, addr net.Addr) (string, int) {
	t.Helper()

	host, portString, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portString)
	require.NoError(t, err)

	return host, port
}
