package sshpool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/merlya/merlya/pkg/credentials"
)

// CommandResult is the captured outcome of one remote command.
type CommandResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the command exited zero.
func (r *CommandResult) Success() bool { return r.ExitCode == 0 }

// Run executes a command on host over a pooled connection. A non-zero exit
// is reported in the result, not as an error; errors mean the command could
// not be run at all (connection, channel, or context failure).
//
// Commands run verbatim over the SSH channel; no local shell is involved.
func (p *Pool) Run(ctx context.Context, host, user, command string) (*CommandResult, error) {
	client, err := p.Get(ctx, host, user)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		// A failed channel open usually means the transport died between the
		// keepalive probe and now; drop the pooled entry so the next call
		// redials.
		p.dropClient(host, user, client)
		return nil, fmt.Errorf("open session on %s: %w", host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	p.logger.Debug("Running remote command",
		"host", host, "command", credentials.Redact(command))

	start := time.Now()
	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("start command on %s: %w", host, err)
	}

	// Sessions have no context support; closing the session unblocks Wait
	// when the context ends first.
	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return nil, fmt.Errorf("command on %s: %w", host, ctx.Err())
	case err = <-done:
	}

	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		var missingErr *ssh.ExitMissingError
		if errors.As(err, &missingErr) {
			// Remote closed without reporting status; treat as failure.
			result.ExitCode = -1
			return result, nil
		}
		return nil, fmt.Errorf("command on %s: %w", host, err)
	}
	return result, nil
}

// dropClient evicts the pooled entry for user@host when it still maps to the
// given client.
func (p *Pool) dropClient(host, user string, client *ssh.Client) {
	if user == "" {
		user = p.cfg.DefaultUser
	}
	key := user + "@" + host
	p.mu.Lock()
	if e, ok := p.entries[key]; ok && e.client == client {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	_ = client.Close()
}
