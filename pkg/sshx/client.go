package sshx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is used if no port is configured.
const DefaultPort = 22

// Config is a flat configuration for an SSH connection. The validate tags
// are evaluated by the rexec package, which registers the notblank rule.
type Config struct {
	Host        string `yaml:"host" validate:"notblank"`
	Port        int    `yaml:"port" validate:"gte=0,lte=65535"`
	User        string `yaml:"user" validate:"notblank"`
	Password    string `yaml:"password" validate:"required_without_all=Key KeyFile"`
	KeyFile     string `yaml:"key-file"`
	Key         string `yaml:"key"`
	Passphrase  string `yaml:"passphrase"`
	Fingerprint string `yaml:"fingerprint"`
	KnownHosts  string `yaml:"known-hosts"`
}

// Address returns the host and port in dialable form.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Client is an augmented SSH client.
type Client struct {
	*Options
	*ssh.Client
}

// NewClient creates a new SSH client based on an SSH configuration
// and connects to it. Network failures are retried with an exponential
// backoff if retries are enabled; handshake and authentication failures
// are not.
func NewClient(ctx context.Context, config *Config, options ...Option) (*Client, error) {
	opts, err := GetDefaultOptions().Apply(options...)
	if err != nil {
		return nil, err
	}

	client := &Client{
		Options: opts,
	}

	clientConfig, err := client.normalizeConfig(config)
	if err != nil {
		return nil, err
	}
	address := config.Address()

	attempt := 0
	operation := func() error {
		attempt++

		conn, err := client.dial(ctx, address, clientConfig)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && ctx.Err() == nil {
				client.Logger.Warn().Err(err).Int("attempt", attempt).Str("address", address).Msg("Connection attempt failed")
				return err
			}
			return backoff.Permanent(err)
		}

		client.Client = conn
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(opts.Retries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	client.Logger.Debug().Str("address", address).Msg("Connection established")

	return client, nil
}

// dial opens the transport, either directly or through the proxy, and
// performs the SSH handshake within the configured timeout.
func (client *Client) dial(ctx context.Context, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	var netConn net.Conn
	var err error
	if client.Proxy != nil {
		// Create a TCP connection from the proxy host to the target.
		netConn, err = client.Proxy.Client.DialContext(ctx, "tcp", address)
	} else {
		dialer := net.Dialer{Timeout: client.Timeout}
		netConn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, err
	}

	// Channels opened through a proxy ignore deadlines, so the handshake
	// is aborted by closing the connection instead.
	stopCancel := context.AfterFunc(ctx, func() { netConn.Close() })
	var timer *time.Timer
	if client.Timeout > 0 {
		timer = time.AfterFunc(client.Timeout, func() { netConn.Close() })
	}

	conn, channels, requests, err := ssh.NewClientConn(netConn, address, config)

	cancelled := !stopCancel()
	timedOut := timer != nil && !timer.Stop()
	if cancelled || timedOut {
		if err == nil {
			conn.Close()
		}
		if cancelled {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("handshake with %s: %w", address, os.ErrDeadlineExceeded)
	}
	if err != nil {
		netConn.Close()
		return nil, err
	}

	return ssh.NewClient(conn, channels, requests), nil
}

// normalizeConfig creates a new client config that is compatible with the standard library.
func (client *Client) normalizeConfig(config *Config) (*ssh.ClientConfig, error) {
	// Load the private key. A key that is specified directly takes
	// precedence over a key file.
	key := config.Key
	if key == "" && config.KeyFile != "" {
		keyFile, err := expandHome(config.KeyFile)
		if err != nil {
			return nil, err
		}

		keyBytes, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		key = string(keyBytes)
	}

	// Configure the authentication method, which may either be a
	// password, a private key or an encrypted private key. Please
	// note that a private key will always take precedence over a
	// password.
	var authMethod ssh.AuthMethod
	if key != "" {
		// Use passphrase to decrypt the private key.
		var signer ssh.Signer
		var err error
		if config.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(config.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(key))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethod = ssh.PublicKeys(signer)
	} else if config.Password != "" {
		authMethod = ssh.Password(config.Password)
	} else {
		return nil, errors.New("no authentication method specified")
	}

	hostKeyCallback, err := client.hostKeyCallback(config)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCallback,
		User:            config.User,
		Timeout:         client.Timeout,
	}, nil
}

// hostKeyCallback prefers a pinned fingerprint over a known_hosts file.
func (client *Client) hostKeyCallback(config *Config) (ssh.HostKeyCallback, error) {
	if config.Fingerprint != "" {
		return func(hostname string, remote net.Addr, pubKey ssh.PublicKey) error {
			fingerprint := ssh.FingerprintSHA256(pubKey)
			if config.Fingerprint != fingerprint {
				return fmt.Errorf("fingerprint mismatch: server fingerprint: %s", fingerprint)
			}
			return nil
		}, nil
	}

	if config.KnownHosts != "" {
		path, err := expandHome(config.KnownHosts)
		if err != nil {
			return nil, err
		}

		callback, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read known_hosts: %w", err)
		}
		return callback, nil
	}

	client.Logger.Warn().Msg("Skipping host key verification is insecure!")
	client.Logger.Warn().Msg("This allows for person-in-the-middle attacks!")
	client.Logger.Warn().Msg("Please consider using fingerprint verification!")

	return ssh.InsecureIgnoreHostKey(), nil
}

// expandHome resolves a leading "~" to the home directory.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, path[1:]), nil
}
