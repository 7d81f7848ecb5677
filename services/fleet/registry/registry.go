// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry maps participant identities to their declared capability
// sets. The registry is static per deployment: it is parsed from the embedded
// manifest once at startup and is read-only during runs.
package registry

import (
	"fmt"

	"github.com/AleutianAI/AleutianFleet/services/fleet/registry/manifest"
	"gopkg.in/yaml.v3"
)

// Capability is one allowed (action, resource) pair for a participant role.
type Capability struct {
	Action   string `yaml:"action" json:"action"`
	Resource string `yaml:"resource" json:"resource"`
}

// Participant is a named caller whose actions pass through the guard.
type Participant struct {
	Role         string       `yaml:"role" json:"role"`
	Capabilities []Capability `yaml:"capabilities" json:"capabilities"`
}

// manifestFile mirrors the YAML layout of the embedded capability manifest.
type manifestFile struct {
	Participants []Participant `yaml:"participants"`
}

// AgentRegistry holds every participant's capability set, indexed for the
// guard's hot path.
//
// # Thread Safety
//
// The registry is immutable after construction, so all methods are safe for
// concurrent use without locking.
type AgentRegistry struct {
	participants map[string]Participant
	allowed      map[string]map[Capability]struct{}
}

// NewAgentRegistry parses the embedded capability manifest.
//
// # Description
//
// Unmarshals the YAML baked into the binary, rejects empty or duplicate
// roles, and builds the capability index. A malformed manifest is a fatal
// configuration error surfaced at startup.
//
// # Outputs
//
//   - *AgentRegistry: the fully indexed registry.
//   - error: non-nil if the manifest is malformed.
func NewAgentRegistry() (*AgentRegistry, error) {
	return NewAgentRegistryFromBytes(manifest.CapabilityManifest)
}

// NewAgentRegistryFromBytes builds a registry from raw manifest YAML.
// Exposed so tests can load reduced or hostile manifests.
func NewAgentRegistryFromBytes(raw []byte) (*AgentRegistry, error) {
	var file manifestFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the capability manifest: %w", err)
	}
	if len(file.Participants) == 0 {
		return nil, fmt.Errorf("capability manifest declares no participants")
	}

	r := &AgentRegistry{
		participants: make(map[string]Participant, len(file.Participants)),
		allowed:      make(map[string]map[Capability]struct{}, len(file.Participants)),
	}
	for _, p := range file.Participants {
		if p.Role == "" {
			return nil, fmt.Errorf("capability manifest contains a participant with an empty role")
		}
		if _, dup := r.participants[p.Role]; dup {
			return nil, fmt.Errorf("capability manifest declares role %q twice", p.Role)
		}
		if len(p.Capabilities) == 0 {
			return nil, fmt.Errorf("participant %q declares no capabilities", p.Role)
		}
		caps := make(map[Capability]struct{}, len(p.Capabilities))
		for _, c := range p.Capabilities {
			if c.Action == "" || c.Resource == "" {
				return nil, fmt.Errorf("participant %q declares an incomplete capability", p.Role)
			}
			caps[c] = struct{}{}
		}
		r.participants[p.Role] = p
		r.allowed[p.Role] = caps
	}
	return r, nil
}

// Known reports whether the participant role is declared in the manifest.
func (r *AgentRegistry) Known(role string) bool {
	_, ok := r.participants[role]
	return ok
}

// Allows reports whether the participant may perform the (action, resource)
// pair. Unknown participants are allowed nothing.
func (r *AgentRegistry) Allows(role, action, resource string) bool {
	caps, ok := r.allowed[role]
	if !ok {
		return false
	}
	_, ok = caps[Capability{Action: action, Resource: resource}]
	return ok
}

// Participants returns all declared participants. The returned slice is a
// copy; mutating it does not affect the registry.
func (r *AgentRegistry) Participants() []Participant {
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}
