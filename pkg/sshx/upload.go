package sshx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// Upload writes the content of the reader to a file on the remote host,
// creating parent directories as needed. A zero mode keeps the default
// permissions of the server. The transfer stops once the context is done.
func (client *Client) Upload(ctx context.Context, target string, content io.Reader, mode os.FileMode) error {
	if client.Client == nil {
		return errors.New("not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(client.Client)
	if err != nil {
		return fmt.Errorf("failed to start sftp subsystem: %w", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(target)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	file, err := sftpClient.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	if _, err := io.Copy(file, &contextReader{ctx: ctx, reader: content}); err != nil {
		file.Close()
		return fmt.Errorf("failed to write remote file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to write remote file: %w", err)
	}

	if mode != 0 {
		if err := sftpClient.Chmod(target, mode); err != nil {
			return fmt.Errorf("failed to change remote file mode: %w", err)
		}
	}

	client.Logger.Debug().Str("path", target).Msg("Uploaded file")

	return nil
}

// contextReader fails all reads once the context is done.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}
