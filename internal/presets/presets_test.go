package presets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/talgya/policysim/internal/policy"
)

func TestBuiltinPresets(t *testing.T) {
	all := Builtin()
	if len(all) < 3 {
		t.Fatalf("got %d builtin presets", len(all))
	}
	cat := NewCatalog(all...)
	for _, name := range []string{DefaultName, "fragile-state", "ring-8"} {
		sc, ok := cat.Lookup(name)
		if !ok {
			t.Fatalf("builtin %q missing", name)
		}
		if err := sc.Validate(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(sc.Funding) != sc.Size() {
			t.Fatalf("%s: funding has %d entries for %d domains", name, len(sc.Funding), sc.Size())
		}
		for i, d := range sc.Domains {
			if d.Profile == policy.ProfileUnset {
				t.Fatalf("%s: domain %d profile left unset", name, i)
			}
		}
	}
}

func TestBuiltinInfersProfiles(t *testing.T) {
	sc, _ := NewCatalog(Builtin()...).Lookup(DefaultName)
	want := map[string]policy.Profile{
		"grid-hub":           policy.ProfileHighThroughput,
		"green-jobs-success": policy.ProfileVirtuous,
		"fossil-collapse":    policy.ProfileVicious,
		"heavy-industry":     policy.ProfileNeutral,
		"clean-energy":       policy.ProfileVirtuous,
	}
	for _, d := range sc.Domains {
		if p, ok := want[d.ID]; ok && d.Profile != p {
			t.Errorf("%s: profile = %v, want %v", d.ID, d.Profile, p)
		}
	}
}

func TestParse(t *testing.T) {
	doc := `
presets:
  - name: tiny
    start: 5
    domains:
      - {id: a, connections: [1, 9], weights: [1, 2], funding: 250}
      - {id: b-crisis, funding: -3}
`
	got, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d presets", len(got))
	}
	sc := got[0]
	if sc.Params != policy.DefaultParams() {
		t.Errorf("params = %+v, want defaults", sc.Params)
	}
	if sc.Start != 1 {
		t.Errorf("start = %d, want clamped to 1", sc.Start)
	}
	if sc.Funding[0] != 100 || sc.Funding[1] != 0 {
		t.Errorf("funding = %v", sc.Funding)
	}
	if c := sc.Domains[0].Connections; len(c) != 1 || c[0] != 1 {
		t.Errorf("connections = %v", c)
	}
	if sc.Domains[1].Profile != policy.ProfileVicious {
		t.Errorf("profile = %v", sc.Domains[1].Profile)
	}
	if sc.Domains[0].Name != "a" {
		t.Errorf("name = %q, want id fallback", sc.Domains[0].Name)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad yaml", "presets: [", "parsing presets"},
		{"no name", "presets:\n  - domains: [{id: a}]\n", "no name"},
		{"no domains", "presets:\n  - name: x\n", "no domains"},
		{"duplicate id", "presets:\n  - name: x\n    domains: [{id: a}, {id: a}]\n", "repeated"},
		{"duplicate preset", "presets:\n  - name: x\n    domains: [{id: a}]\n  - name: x\n    domains: [{id: b}]\n", "defined twice"},
		{"bad profile", "presets:\n  - name: x\n    domains: [{id: a, profile: heroic}]\n", "heroic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	want := Builtin()
	data, err := Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "presets.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d presets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i].Name || got[i].Size() != want[i].Size() || got[i].Params != want[i].Params {
			t.Fatalf("preset %d differs: %+v vs %+v", i, got[i], want[i])
		}
		for j := range want[i].Domains {
			if got[i].Domains[j].Profile != want[i].Domains[j].Profile {
				t.Fatalf("%s domain %d profile changed", want[i].Name, j)
			}
			if got[i].Funding[j] != want[i].Funding[j] {
				t.Fatalf("%s domain %d funding changed", want[i].Name, j)
			}
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCatalog(t *testing.T) {
	cat := NewCatalog(policy.Scenario{Name: "b", Domains: []policy.Domain{{ID: "x"}}})
	cat.Put(policy.Scenario{Name: "a", Domains: []policy.Domain{{ID: "y"}}})
	if names := cat.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}

	sc, _ := cat.Lookup("a")
	sc.Domains[0].ID = "mutated"
	again, _ := cat.Lookup("a")
	if again.Domains[0].ID != "y" {
		t.Fatal("Lookup returned an aliased scenario")
	}

	if _, ok := cat.Lookup("missing"); ok {
		t.Fatal("found missing preset")
	}
	if cat.Len() != 2 || len(cat.All()) != 2 {
		t.Fatalf("len = %d", cat.Len())
	}
}
