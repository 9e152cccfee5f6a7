package rexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicklasfrahm/sshrunas/pkg/sshx"
)

var _ Command = (*sshx.Process)(nil)

// SSH is a dialer that opens sessions on a remote host via SSH.
type SSH struct {
	Logger  *zerolog.Logger
	Timeout time.Duration
	Retries int
}

// NewSSH returns a new SSH-based dialer.
func NewSSH(options ...Option) (*SSH, error) {
	opts, err := GetDefaultOptions().Apply(options...)
	if err != nil {
		return nil, err
	}

	return &SSH{
		Logger:  opts.Logger,
		Timeout: opts.Timeout,
		Retries: opts.Retries,
	}, nil
}

// Dial connects to the target host, going through the proxy
// host first if one is configured.
func (d *SSH) Dial(ctx context.Context, config *Config) (Session, error) {
	options := []sshx.Option{
		sshx.WithTimeout(d.Timeout),
		sshx.WithRetries(d.Retries),
	}

	session := &sshSession{}

	if config.Proxy != nil {
		proxyLogger := d.Logger.With().Str("proxy", config.Proxy.Address()).Logger()

		proxy, err := sshx.NewClient(ctx, config.Proxy, append(options, sshx.WithLogger(&proxyLogger))...)
		if err != nil {
			return nil, fmt.Errorf("proxy: %w", err)
		}

		session.proxy = proxy
		options = append(options, sshx.WithProxy(proxy))
	}

	targetLogger := d.Logger.With().Str("host", config.SSH.Host).Logger()

	target, err := sshx.NewClient(ctx, &config.SSH, append(options, sshx.WithLogger(&targetLogger))...)
	if err != nil {
		session.Close()
		return nil, err
	}
	session.target = target

	return session, nil
}

// sshSession holds the connections of a single run.
type sshSession struct {
	proxy  *sshx.Client
	target *sshx.Client
}

func (s *sshSession) Upload(ctx context.Context, target string, content io.Reader, mode os.FileMode) error {
	return s.target.Upload(ctx, target, content, mode)
}

func (s *sshSession) Start(cmd *sshx.Cmd) (Command, error) {
	process, err := s.target.Start(cmd)
	if err != nil {
		return nil, err
	}

	return process, nil
}

// Close closes the SSH connections in reverse order to how they were opened.
func (s *sshSession) Close() error {
	if s.target != nil {
		if err := s.target.Close(); err != nil {
			return err
		}
		s.target = nil
	}

	if s.proxy != nil {
		if err := s.proxy.Close(); err != nil {
			return err
		}
		s.proxy = nil
	}

	return nil
}
