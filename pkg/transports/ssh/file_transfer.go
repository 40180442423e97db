package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// UploadFile copies a local file to the endpoint via SFTP. Virtual media
// mounts pull images over HTTP or NFS, so ISO staging happens against a
// media host, not the controller itself.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error {
	sshClient, err := c.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create sftp client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to open local file: %w", err),
		}
	}
	defer local.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &TransportError{
				Op:  "upload",
				Err: fmt.Errorf("failed to create remote directory %s: %w", dir, err),
			}
		}
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to create remote file: %w", err),
		}
	}
	defer remote.Close()

	done := make(chan error, 1)
	var written int64
	go func() {
		n, copyErr := io.Copy(remote, local)
		written = n
		done <- copyErr
	}()

	select {
	case <-ctx.Done():
		return &TransportError{
			Op:          "upload",
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case err := <-done:
		if err != nil {
			return &TransportError{
				Op:          "upload",
				Err:         fmt.Errorf("transfer failed: %w", err),
				IsTemporary: true,
			}
		}
	}

	if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to set permissions: %w", err),
		}
	}

	c.touch()
	log.Info().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", written).
		Msg("file uploaded")
	return nil
}
