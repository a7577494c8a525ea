// Package policy describes the static policy graph: domains, their causal
// connections, and the scenario parameters a run is configured with.
package policy

import (
	"fmt"
	"strings"
)

// Domain is one node of the policy graph.
type Domain struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Connections []int     `json:"connections,omitempty" yaml:"connections,omitempty"` // Outgoing domain indices
	Weights     []float64 `json:"weights,omitempty" yaml:"weights,omitempty"`         // Parallel to Connections; nil = uniform
	Profile     Profile   `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// Profile tags a domain as a neutral, virtuous, vicious or high-throughput
// outcome. It scales how the shadow cost model prices the domain.
type Profile uint8

const (
	ProfileUnset          Profile = iota // Resolved from the ID at load time
	ProfileNeutral                       // Baseline pricing
	ProfileVirtuous                      // Clear systemic success
	ProfileVicious                       // Clear systemic failure
	ProfileHighThroughput                // Hub domains that amplify both sides
)

var profileNames = map[Profile]string{
	ProfileUnset:          "",
	ProfileNeutral:        "neutral",
	ProfileVirtuous:       "virtuous",
	ProfileVicious:        "vicious",
	ProfileHighThroughput: "high-throughput",
}

// String returns the profile's YAML name.
func (p Profile) String() string {
	if name, ok := profileNames[p]; ok {
		return name
	}
	return fmt.Sprintf("profile(%d)", uint8(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Profile) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Profile) UnmarshalText(text []byte) error {
	parsed, err := ParseProfile(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseProfile parses a profile name. The empty string is ProfileUnset.
func ParseProfile(s string) (Profile, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return ProfileUnset, nil
	case "high_throughput", "highthroughput":
		return ProfileHighThroughput, nil
	}
	for p, name := range profileNames {
		if name == s {
			return p, nil
		}
	}
	return ProfileUnset, fmt.Errorf("unknown profile %q", s)
}

// Identifier fragments that mark a domain's profile when the author left
// it unset. Checked in order: failure wins over success.
var profileHints = []struct {
	profile   Profile
	fragments []string
}{
	{ProfileVicious, []string{"collapse", "failure", "crisis", "decline", "vicious", "lockin", "lock-in"}},
	{ProfileVirtuous, []string{"success", "thriving", "resilient", "virtuous", "prosperity", "stable"}},
	{ProfileHighThroughput, []string{"hub", "throughput", "grid", "network", "market"}},
}

// InferProfile derives a profile from identifier substrings.
func InferProfile(id string) Profile {
	id = strings.ToLower(id)
	for _, hint := range profileHints {
		for _, frag := range hint.fragments {
			if strings.Contains(id, frag) {
				return hint.profile
			}
		}
	}
	return ProfileNeutral
}

// ProfileWeights scales a domain's shadow-price streams.
type ProfileWeights struct {
	Benefit     float64 // Multiplier on benefit quantities
	Cost        float64 // Multiplier on fiscal cost quantities
	Risk        float64 // Multiplier on risk cost quantities
	WelfareBias float64 // Additive shift on welfare quantity, in funding-normalized units
}

// Weights returns the pricing multipliers for the profile.
func (p Profile) Weights() ProfileWeights {
	switch p {
	case ProfileVirtuous:
		return ProfileWeights{Benefit: 1.35, Cost: 0.85, Risk: 0.6, WelfareBias: 0.4}
	case ProfileVicious:
		return ProfileWeights{Benefit: 0.55, Cost: 1.25, Risk: 1.8, WelfareBias: -0.6}
	case ProfileHighThroughput:
		return ProfileWeights{Benefit: 1.2, Cost: 1.15, Risk: 1.0, WelfareBias: 0.1}
	default:
		return ProfileWeights{Benefit: 1, Cost: 1, Risk: 1}
	}
}
