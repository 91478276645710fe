package sshpool

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/merlya/merlya/pkg/config"
)

// EnvAutoAddHosts overrides the configured host-key policy to auto_add when
// set to a truthy value.
const EnvAutoAddHosts = "AUTO_ADD_HOSTS"

// hostKeyVerifier builds the ssh.HostKeyCallback for the effective policy.
type hostKeyVerifier struct {
	policy     config.HostKeyPolicy
	knownHosts ssh.HostKeyCallback
	// knownHostsPath is where auto_add appends accepted keys.
	knownHostsPath string
	logger         *slog.Logger
}

// newHostKeyVerifier loads known_hosts and resolves the effective policy.
//
// The AUTO_ADD_HOSTS override is applied first. The known_hosts file is then
// loaded: a parse error forces reject regardless of policy; a missing or
// unreadable file forces reject unless the override is set (in which case an
// empty baseline is used and every key is added).
func newHostKeyVerifier(cfg config.SSHConfig, logger *slog.Logger) *hostKeyVerifier {
	policy := cfg.HostKeyPolicy
	override := isTruthyEnv(os.Getenv(EnvAutoAddHosts))
	if override {
		policy = config.HostKeyPolicyAutoAdd
	}

	path := cfg.KnownHostsFile
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
	}

	v := &hostKeyVerifier{
		policy:         policy,
		knownHostsPath: path,
		logger:         logger,
	}

	callback, err := loadKnownHosts(path)
	switch {
	case err == nil:
		v.knownHosts = callback
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		if override {
			logger.Warn("known_hosts unavailable; AUTO_ADD_HOSTS set, starting with empty baseline",
				"file", path)
			v.knownHosts = nil
		} else {
			logger.Warn("known_hosts missing or unreadable; forcing reject policy",
				"file", path, "error", err)
			v.policy = config.HostKeyPolicyReject
			v.knownHosts = rejectAll(fmt.Errorf("known_hosts unavailable: %w", err))
		}
	default:
		// Parse errors always force reject: a corrupt trust baseline must
		// never widen acceptance, override or not.
		logger.Error("known_hosts failed to parse; forcing reject policy",
			"file", path, "error", err)
		v.policy = config.HostKeyPolicyReject
		v.knownHosts = rejectAll(fmt.Errorf("known_hosts parse error: %w", err))
	}

	return v
}

// callback returns the ssh.HostKeyCallback implementing the policy.
func (v *hostKeyVerifier) callback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if v.policy == config.HostKeyPolicyAutoAdd {
			v.logger.Warn("Host key auto-add policy active",
				"host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
		}

		if v.knownHosts == nil {
			// No baseline at all; only auto_add may proceed.
			if v.policy == config.HostKeyPolicyAutoAdd {
				v.appendKnownHost(hostname, remote, key)
				return nil
			}
			return fmt.Errorf("host key verification failed for %s: no known_hosts baseline", hostname)
		}

		err := v.knownHosts(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) > 0 {
			// Key mismatch against a recorded entry: possible MITM, never
			// accepted under any policy.
			return fmt.Errorf("host key mismatch for %s: %w", hostname, err)
		}

		switch v.policy {
		case config.HostKeyPolicyWarning:
			v.logger.Warn("Accepting unknown host key",
				"host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
			return nil
		case config.HostKeyPolicyAutoAdd:
			v.appendKnownHost(hostname, remote, key)
			return nil
		default:
			return fmt.Errorf("unknown host key for %s: %w", hostname, err)
		}
	}
}

// appendKnownHost records an accepted key in the known_hosts file.
func (v *hostKeyVerifier) appendKnownHost(hostname string, remote net.Addr, key ssh.PublicKey) {
	if v.knownHostsPath == "" {
		return
	}
	addresses := []string{hostname}
	if remote != nil && remote.String() != hostname {
		addresses = append(addresses, remote.String())
	}
	line := knownhosts.Line(addresses, key)

	f, err := os.OpenFile(v.knownHostsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		v.logger.Error("Failed to open known_hosts for append",
			"file", v.knownHostsPath, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		v.logger.Error("Failed to append host key",
			"file", v.knownHostsPath, "host", hostname, "error", err)
		return
	}
	v.logger.Info("Host key added to known_hosts",
		"host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
}

// loadKnownHosts parses the known_hosts file into a callback.
func loadKnownHosts(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return nil, fs.ErrNotExist
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return knownhosts.New(path)
}

// rejectAll is a callback that fails every verification with the given cause.
func rejectAll(cause error) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return fmt.Errorf("rejecting host key for %s: %w", hostname, cause)
	}
}

// isTruthyEnv matches the usual affirmative spellings.
func isTruthyEnv(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
