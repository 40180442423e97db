// Package ssh carries CLP sessions to iLO controllers over SSH. The same
// client also serves the media hosts that stage ISO images for virtual
// media, which is why SFTP upload lives here too.
package ssh

import (
	"context"
	"time"
)

// Transport is an established session against one endpoint. One command
// is in flight at a time; Execute serializes callers.
type Transport interface {
	// Connect establishes the SSH connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and releases all resources.
	Disconnect() error

	// IsConnected reports whether the transport has an active
	// connection.
	IsConnected() bool

	// HealthCheck verifies the session still answers.
	HealthCheck(ctx context.Context) error

	// Execute runs one CLP command and returns its combined output and
	// remote exit status. A nonzero exit status is data, not an error;
	// err is set only for channel-level failures.
	Execute(ctx context.Context, command string) (stdout string, exitStatus int, err error)

	// UploadFile copies a local file to the endpoint via SFTP. Used to
	// stage ISO images on media hosts, never against iLO itself.
	UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error

	// GetConnectionInfo returns details about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active connection.
type ConnectionInfo struct {
	Host string
	Port int
	User string

	// ConnectedAt is when the connection was established.
	ConnectedAt time.Time

	// LastActivity is when the connection was last used.
	LastActivity time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the error may clear on retry.
	IsTemporary bool

	// IsAuthError indicates an authentication failure.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
