package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction says how a failed MCP operation should be handled.
type RecoveryAction int

const (
	// NoRetry marks errors that retrying cannot fix (bad request, auth,
	// deadline already spent).
	NoRetry RecoveryAction = iota
	// RetrySameSession marks transient errors where the session is fine.
	RetrySameSession
	// RetryNewSession marks transport failures; the session must be
	// recreated before retrying.
	RetryNewSession
)

const (
	// InitTimeout bounds a server connect (spawn + handshake).
	InitTimeout = 30 * time.Second

	// OperationTimeout is the per-call deadline for CallTool and
	// ListTools. Generous on purpose; some tools are legitimately slow.
	OperationTimeout = 90 * time.Second

	// ReinitTimeout bounds session recreation during recovery.
	ReinitTimeout = 10 * time.Second

	// PingTimeout bounds a liveness probe.
	PingTimeout = 5 * time.Second

	// RetryBackoffMin and RetryBackoffMax bracket the jittered pause
	// before the single retry attempt.
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond
)

// ClassifyError maps an MCP operation error to a recovery action.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	// A network timeout could just be a slow server; reconnecting would
	// not help. Other net errors mean the transport is gone.
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewSession
	}

	if connectionLost(err) {
		return RetryNewSession
	}

	// JSON-RPC level errors are client mistakes, not transport faults.
	if protocolError(err) {
		return NoRetry
	}

	// Unknown errors are not safe to retry.
	return NoRetry
}

// connectionLost detects a dead transport, which for stdio servers
// usually means the child process exited.
func connectionLost(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// protocolError detects JSON-RPC errors surfaced by the SDK.
func protocolError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"method not found",
		"invalid params",
		"invalid request",
		"parse error",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
