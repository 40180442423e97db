package ssh

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Execute runs one CLP command on the controller. The device's exit
// status is returned as data; err covers channel-level failures only.
// Commands are serialized so a slow command never interleaves with the
// next one's output.
func (c *Client) Execute(ctx context.Context, command string) (string, int, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	startTime := time.Now()

	sshClient, err := c.getClient()
	if err != nil {
		return "", 0, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return "", 0, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	// iLO writes everything to stdout; stderr is captured anyway so a
	// chatty firmware does not lose diagnostics.
	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(command)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		// The CLP session has no job control; closing the session is
		// the only way to abandon a stuck command.
		_ = session.Close()
		<-doneChan
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	c.touch()
	duration := time.Since(startTime)
	stdout := stdoutBuf.String()
	if stderrBuf.Len() > 0 {
		stdout += stderrBuf.String()
	}

	log.Debug().
		Int("stdout_len", len(stdout)).
		Dur("duration", duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			return stdout, exitErr.ExitStatus(), nil
		}
		return stdout, 0, &TransportError{
			Op:          "exec",
			Err:         execErr,
			IsTemporary: true,
		}
	}

	return stdout, 0, nil
}
