package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

// AgentKind describes one named custom agent invocation template in
// agents.yaml: how to launch it, and in which mode (PTY or JSON) its
// supervisor should run it. Generalizes the teacher's MCPServerConfig
// catalog from "MCP server the pane can enable" to "agent kind a session
// can be created as".
type AgentKind struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Mode        string            `yaml:"mode" json:"mode"` // "pty" or "json"
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkDir     string            `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
}

// AgentCatalog is the parsed contents of agents.yaml.
type AgentCatalog struct {
	Agents []AgentKind `yaml:"agents"`
}

// DefaultAgentCatalog seeds the catalog with the two agent kinds spec.md's
// core assumes: a PTY-mode interactive shell agent and a JSON-mode Claude
// Code agent.
func DefaultAgentCatalog() AgentCatalog {
	return AgentCatalog{
		Agents: []AgentKind{
			{
				ID:      "shell",
				Name:    "Interactive Shell",
				Mode:    "pty",
				Command: defaultShellForPlatform(),
			},
			{
				ID:      "claude-code",
				Name:    "Claude Code",
				Mode:    "json",
				Command: "claude",
				Args:    []string{"--output-format", "stream-json"},
			},
		},
	}
}

// LoadAgentCatalog reads agents.yaml. If the file does not exist, the
// default catalog is returned. Unknown fields are ignored for forward
// compatibility with newer catalog files.
func LoadAgentCatalog(path string) (AgentCatalog, error) {
	catalog := DefaultAgentCatalog()
	if path == "" {
		return catalog, errors.New("agent catalog path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return catalog, nil
		}
		return catalog, err
	}
	if len(raw) == 0 {
		return catalog, nil
	}

	var loaded AgentCatalog
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse agents.yaml, using defaults", "path", path, "error", err)
		return DefaultAgentCatalog(), err
	}
	sanitized := sanitizeAgentKinds(loaded.Agents)
	if len(sanitized) == 0 {
		return catalog, nil
	}
	return AgentCatalog{Agents: sanitized}, nil
}

// EnsureAgentCatalogFile writes the default agents.yaml if missing and
// returns the loaded catalog.
func EnsureAgentCatalogFile(path string) (AgentCatalog, error) {
	catalog, err := LoadAgentCatalog(path)
	if err != nil {
		return catalog, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		raw, marshalErr := yaml.Marshal(catalog)
		if marshalErr != nil {
			return catalog, fmt.Errorf("save agent catalog: marshal: %w", marshalErr)
		}
		if err := atomicWrite(path, raw); err != nil {
			return catalog, err
		}
	}
	return catalog, nil
}

// sanitizeAgentKinds validates and normalizes agents.yaml entries, skipping
// invalid ones with a warning rather than failing the whole catalog load.
func sanitizeAgentKinds(agents []AgentKind) []AgentKind {
	if len(agents) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(agents))
	out := make([]AgentKind, 0, len(agents))
	for i, kind := range agents {
		kind.ID = strings.TrimSpace(kind.ID)
		kind.Name = strings.TrimSpace(kind.Name)
		kind.Command = strings.TrimSpace(kind.Command)
		kind.Mode = strings.ToLower(strings.TrimSpace(kind.Mode))

		if kind.ID == "" {
			slog.Warn("[WARN-CONFIG] agents.yaml entry has empty id, skipping", "index", i)
			continue
		}
		if kind.Command == "" {
			slog.Warn("[WARN-CONFIG] agents.yaml entry has empty command, skipping", "id", kind.ID)
			continue
		}
		if kind.Mode != "pty" && kind.Mode != "json" {
			slog.Warn("[WARN-CONFIG] agents.yaml entry has invalid mode, skipping", "id", kind.ID, "mode", kind.Mode)
			continue
		}
		if _, exists := seen[kind.ID]; exists {
			slog.Warn("[WARN-CONFIG] agents.yaml entry has duplicate id, skipping", "id", kind.ID)
			continue
		}
		seen[kind.ID] = struct{}{}
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the agent kind with the given id, if present.
func (c AgentCatalog) Find(id string) (AgentKind, bool) {
	for _, kind := range c.Agents {
		if kind.ID == id {
			return kind, true
		}
	}
	return AgentKind{}, false
}
