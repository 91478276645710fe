package shell

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/merlya/merlya/pkg/knowledge"
)

const netUsage = "usage: /net {routes|route CIDR GATEWAY|facts HOST|fact HOST KEY VALUE}"

func (s *Shell) netCommand(args []string) (string, error) {
	if s.deps.Knowledge == nil {
		return "", fmt.Errorf("knowledge store is not wired")
	}
	if len(args) == 0 {
		return "", fmt.Errorf("%s", netUsage)
	}

	switch args[0] {
	case "routes":
		return s.netRoutes()

	case "route":
		if len(args) < 3 {
			return "", fmt.Errorf("usage: /net route CIDR GATEWAY")
		}
		if _, _, err := net.ParseCIDR(args[1]); err != nil {
			return "", fmt.Errorf("invalid network %q: %w", args[1], err)
		}
		route := knowledge.Route{Network: args[1], Gateway: args[2]}
		if err := s.deps.Knowledge.SaveRoute(route); err != nil {
			return "", err
		}
		return fmt.Sprintf("route %s via %s", route.Network, route.Gateway), nil

	case "facts":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: /net facts HOST")
		}
		return s.netFacts(args[1])

	case "fact":
		if len(args) < 4 {
			return "", fmt.Errorf("usage: /net fact HOST KEY VALUE")
		}
		value := strings.Join(args[3:], " ")
		if err := s.deps.Knowledge.RecordHostFact(args[1], args[2], value); err != nil {
			return "", err
		}
		return fmt.Sprintf("recorded %s %s", args[1], args[2]), nil

	default:
		return "", fmt.Errorf("unknown /net subcommand %q (%s)", args[0], netUsage)
	}
}

func (s *Shell) netRoutes() (string, error) {
	routes, err := s.deps.Knowledge.Routes()
	if err != nil {
		return "", err
	}
	if len(routes) == 0 {
		return "no routes recorded", nil
	}
	var sb strings.Builder
	for _, r := range routes {
		fmt.Fprintf(&sb, "%-20s via %s\n", r.Network, r.Gateway)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// netFacts renders a host's recorded facts sorted by key.
func (s *Shell) netFacts(host string) (string, error) {
	facts, err := s.deps.Knowledge.HostFacts(host)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return fmt.Sprintf("no facts recorded for %s", host), nil
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%-20s %s\n", k, facts[k])
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
