package shell

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/merlya/merlya/pkg/credentials"
)

const credentialsUsage = "usage: /credentials {set KEY VALUE [TYPE]|set-secret KEY|list}"

func (s *Shell) credentialsCommand(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%s", credentialsUsage)
	}

	switch args[0] {
	case "set":
		if len(args) < 3 {
			return "", fmt.Errorf("usage: /credentials set KEY VALUE [TYPE]")
		}
		typ := credentials.VariableTypeConfig
		if len(args) > 3 {
			typ = credentials.VariableType(args[3])
		}
		if err := s.deps.Credentials.Set(args[1], args[2], typ); err != nil {
			return "", err
		}
		return fmt.Sprintf("set %s (%s)", args[1], typ), nil

	case "set-secret":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: /credentials set-secret KEY")
		}
		value, err := s.readSecret()
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		if value == "" {
			return "", fmt.Errorf("empty secret not stored")
		}
		if err := s.deps.Credentials.Set(args[1], value, credentials.VariableTypeSecret); err != nil {
			return "", err
		}
		return fmt.Sprintf("set %s (secret)", args[1]), nil

	case "list":
		return s.credentialsList(), nil

	default:
		return "", fmt.Errorf("unknown /credentials subcommand %q (%s)", args[0], credentialsUsage)
	}
}

// credentialsList renders the store with secret values masked.
func (s *Shell) credentialsList() string {
	vars := s.deps.Credentials.List()
	if len(vars) == 0 {
		return "no variables set"
	}

	var sb strings.Builder
	for _, v := range vars {
		value := v.Value
		if v.Type == credentials.VariableTypeSecret {
			value = credentials.Redacted
		}
		fmt.Fprintf(&sb, "%-20s %-8s %s\n", v.Key, v.Type, value)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// readSecretFromTerminal reads a value with echo disabled. Piped stdin
// falls back to a plain line read so scripts can feed secrets.
func readSecretFromTerminal() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "secret: ")
	value, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(value), nil
}
