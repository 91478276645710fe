package sshpool

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// keyFileNames is the private key preference order under ~/.ssh.
var keyFileNames = []string{"id_ed25519", "id_ecdsa", "id_rsa", "id_dsa"}

// discoverAuthMethods assembles the auth methods for a connection: the SSH
// agent when SSH_AUTH_SOCK points at one, then any parseable private keys
// from the standard locations, in ed25519 → ecdsa → rsa → dsa order.
func discoverAuthMethods(logger *slog.Logger) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if method := agentAuth(logger); method != nil {
		methods = append(methods, method)
	}

	if signers := discoverKeySigners(logger); len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		logger.Warn("No SSH auth methods discovered; connections will fail unless the server accepts none")
	}
	return methods
}

// agentAuth connects to the SSH agent if one is advertised.
func agentAuth(logger *slog.Logger) ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		logger.Warn("SSH agent socket unreachable", "socket", sock, "error", err)
		return nil
	}
	// The agent connection stays open for the process lifetime; signers are
	// requested lazily per handshake.
	client := agent.NewClient(conn)
	logger.Debug("SSH agent authentication enabled", "socket", sock)
	return ssh.PublicKeysCallback(client.Signers)
}

// discoverKeySigners loads private keys from ~/.ssh in preference order.
// Passphrase-protected keys are skipped with a warning; the core has no
// interactive prompt during connection setup.
func discoverKeySigners(logger *slog.Logger) []ssh.Signer {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	sshDir := filepath.Join(home, ".ssh")

	var signers []ssh.Signer
	for _, name := range keyFileNames {
		path := filepath.Join(sshDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			var passErr *ssh.PassphraseMissingError
			if errors.As(err, &passErr) {
				logger.Warn("Skipping passphrase-protected key; use the agent for it",
					"key", path)
			} else {
				logger.Warn("Skipping unparseable private key", "key", path, "error", err)
			}
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}
