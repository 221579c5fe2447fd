// Package registry holds the immutable table of dispatchable agents loaded at
// startup and the alias parsing used to address them from free text.
package registry

import (
	"fmt"
	"strings"
)

// DefaultScope is the delegated scope requested for agents hosted in the
// public Power Platform cloud when no explicit scope is configured.
const DefaultScope = "https://api.powerplatform.com/.default"

// Cloud names the hosting cloud of a remote agent.
type Cloud string

const (
	CloudProd   Cloud = "prod"
	CloudGov    Cloud = "gov"
	CloudHigh   Cloud = "high"
	CloudCustom Cloud = "custom"
)

var cloudHosts = map[Cloud]string{
	CloudProd: "api.powerplatform.com",
	CloudGov:  "api.gov.powerplatform.microsoft.us",
	CloudHigh: "api.high.powerplatform.microsoft.us",
}

// ConnectionSettings locates a remote agent and the auth scope needed to call it.
type ConnectionSettings struct {
	EnvironmentID string `yaml:"environment_id" toml:"environment_id" json:"environmentId,omitempty"`
	SchemaName    string `yaml:"schema_name" toml:"schema_name" json:"schemaName,omitempty"`
	Cloud         Cloud  `yaml:"cloud" toml:"cloud" json:"cloud,omitempty"`
	// Endpoint overrides the conversations URL derived from the environment.
	Endpoint string `yaml:"endpoint" toml:"endpoint" json:"endpoint,omitempty"`
	// Scope overrides the scope derived from the cloud.
	Scope string `yaml:"scope" toml:"scope" json:"scope,omitempty"`
}

// ResolveScope returns the delegated scope for the agent, or "" when none can
// be determined.
func (s ConnectionSettings) ResolveScope() string {
	if s.Scope != "" {
		return s.Scope
	}
	host, ok := cloudHosts[s.cloudOrDefault()]
	if !ok {
		return ""
	}
	return "https://" + host + "/.default"
}

// ConversationsURL returns the base conversations endpoint of the agent.
func (s ConnectionSettings) ConversationsURL() (string, error) {
	if s.Endpoint != "" {
		return strings.TrimRight(s.Endpoint, "/"), nil
	}
	host, ok := cloudHosts[s.cloudOrDefault()]
	if !ok {
		return "", fmt.Errorf("no endpoint configured for cloud %q", s.Cloud)
	}
	if s.EnvironmentID == "" || s.SchemaName == "" {
		return "", fmt.Errorf("environment id and schema name are required")
	}
	env := strings.ToLower(strings.ReplaceAll(s.EnvironmentID, "-", ""))
	if len(env) < 3 {
		return "", fmt.Errorf("environment id %q is too short", s.EnvironmentID)
	}
	prefix, suffix := env[:len(env)-2], env[len(env)-2:]
	return fmt.Sprintf("https://%s.%s.environment.%s/copilotstudio/dataverse-backed/authenticated/bots/%s/conversations",
		prefix, suffix, host, s.SchemaName), nil
}

func (s ConnectionSettings) cloudOrDefault() Cloud {
	if s.Cloud == "" {
		return CloudProd
	}
	return Cloud(strings.ToLower(string(s.Cloud)))
}

// Agent is a dispatchable remote agent.
type Agent struct {
	Alias       string             `yaml:"alias" toml:"alias" json:"alias"`
	DisplayName string             `yaml:"display_name" toml:"display_name" json:"displayName"`
	Connection  ConnectionSettings `yaml:"connection" toml:"connection" json:"connection"`
}

// Registry is a read-only, case-insensitive alias table. It is safe for
// concurrent use.
type Registry struct {
	agents []Agent
	byKey  map[string]int
}

// New builds a registry. Aliases must be non-empty and unique ignoring case.
func New(agents []Agent) (*Registry, error) {
	r := &Registry{agents: make([]Agent, 0, len(agents)), byKey: make(map[string]int, len(agents))}
	for _, a := range agents {
		key := strings.ToLower(strings.TrimSpace(a.Alias))
		if key == "" {
			return nil, fmt.Errorf("agent %q: alias is required", a.DisplayName)
		}
		if _, dup := r.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate agent alias %q", a.Alias)
		}
		r.byKey[key] = len(r.agents)
		r.agents = append(r.agents, a)
	}
	return r, nil
}

// Lookup returns the agent registered for alias.
func (r *Registry) Lookup(alias string) (Agent, bool) {
	if alias == "" {
		return Agent{}, false
	}
	i, ok := r.byKey[strings.ToLower(alias)]
	if !ok {
		return Agent{}, false
	}
	return r.agents[i], true
}

// IsKnown reports whether alias names a registered agent.
func (r *Registry) IsKnown(alias string) bool {
	_, ok := r.Lookup(alias)
	return ok
}

// DisplayName returns the agent's display name, falling back to the alias
// itself for unknown aliases or agents without a display name.
func (r *Registry) DisplayName(alias string) string {
	if a, ok := r.Lookup(alias); ok && a.DisplayName != "" {
		return a.DisplayName
	}
	return alias
}

// Agents returns the registered agents in configuration order.
func (r *Registry) Agents() []Agent {
	return append([]Agent(nil), r.agents...)
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.agents) }
