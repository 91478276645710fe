// Package credentials holds typed variables and the dual-resolution policy
// that keeps secret values out of LLM-bound text while resolving them for
// command execution. Log redaction lives here too so the sensitive-name
// vocabulary stays in one place.
package credentials

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// VariableType classifies a stored variable.
type VariableType string

const (
	// VariableTypeSecret values never appear in LLM-bound text.
	VariableTypeSecret VariableType = "secret"
	// VariableTypeConfig is non-sensitive configuration.
	VariableTypeConfig VariableType = "config"
	// VariableTypeHost is a hostname or address.
	VariableTypeHost VariableType = "host"
	// VariableTypeOther is anything else.
	VariableTypeOther VariableType = "other"
)

// IsValid checks if the variable type is valid
func (t VariableType) IsValid() bool {
	switch t {
	case VariableTypeSecret, VariableTypeConfig, VariableTypeHost, VariableTypeOther:
		return true
	default:
		return false
	}
}

// Variable is one typed key/value entry.
type Variable struct {
	Key   string
	Value string
	Type  VariableType
}

// variableName matches a legal variable key and the @references to it.
var variableName = regexp.MustCompile(`^[A-Za-z][\w-]*$`)

// referencePattern finds @name occurrences inside free text.
var referencePattern = regexp.MustCompile(`@([A-Za-z][\w-]*)`)

// Store is the in-process variable store.
type Store struct {
	mu     sync.RWMutex
	vars   map[string]Variable
	warned map[string]bool // names already warned about, one warning per name
	logger *slog.Logger
}

// NewStore creates an empty store. Production code uses Default().
func NewStore() *Store {
	return &Store{
		vars:   make(map[string]Variable),
		warned: make(map[string]bool),
		logger: slog.Default().With("component", "credentials"),
	}
}

// Set stores a variable, replacing any previous value.
func (s *Store) Set(key, value string, typ VariableType) error {
	if !variableName.MatchString(key) {
		return fmt.Errorf("invalid variable name %q: must match [A-Za-z][\\w-]*", key)
	}
	if !typ.IsValid() {
		return fmt.Errorf("invalid variable type %q", typ)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[key] = Variable{Key: key, Value: value, Type: typ}
	return nil
}

// Get returns the variable for key.
func (s *Store) Get(key string) (Variable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[key]
	return v, ok
}

// Delete removes a variable. Returns whether it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.vars[key]
	delete(s.vars, key)
	return ok
}

// List returns all variables sorted by key. Secret values are included;
// callers rendering for display must mask them.
func (s *Store) List() []Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Variable, 0, len(s.vars))
	for _, v := range s.vars {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ResolveVariables substitutes every @name reference in text.
//
// When resolveSecrets is false, references to secret-typed variables are
// left verbatim so the secret value never enters the output. Text destined
// for the LLM must be produced with resolveSecrets=false; text destined for
// command execution with resolveSecrets=true.
//
// Undefined names are left verbatim and warned about once per store.
func (s *Store) ResolveVariables(text string, resolveSecrets bool) string {
	return referencePattern.ReplaceAllStringFunc(text, func(ref string) string {
		name := ref[1:] // strip @
		s.mu.RLock()
		v, ok := s.vars[name]
		s.mu.RUnlock()

		if !ok {
			s.warnOnce(name)
			return ref
		}
		if v.Type == VariableTypeSecret && !resolveSecrets {
			return ref
		}
		return v.Value
	})
}

func (s *Store) warnOnce(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warned[name] {
		return
	}
	s.warned[name] = true
	s.logger.Warn("Unresolved variable reference", "name", name)
}

// ServiceCredentials returns the user/password pair for a named service.
// Store variables "<service>_user"/"<service>_pass" win; otherwise the
// uppercase environment variables <SERVICE>_USER and <SERVICE>_PASS apply.
func (s *Store) ServiceCredentials(service string) (user, pass string, ok bool) {
	if v, found := s.Get(service + "_user"); found {
		user = v.Value
	}
	if v, found := s.Get(service + "_pass"); found {
		pass = v.Value
	}
	upper := strings.ToUpper(service)
	if user == "" {
		user = os.Getenv(upper + "_USER")
	}
	if pass == "" {
		pass = os.Getenv(upper + "_PASS")
	}
	return user, pass, user != "" || pass != ""
}

var (
	defaultMu    sync.Mutex
	defaultStore *Store
)

// Default returns the process-wide credential store.
func Default() *Store {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore == nil {
		defaultStore = NewStore()
	}
	return defaultStore
}

// ResetInstance discards the process-wide store. Test-only.
func ResetInstance() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStore = nil
}
