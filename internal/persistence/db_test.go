package persistence

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/talgya/policysim/internal/policy"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testScenario(name string) policy.Scenario {
	return policy.Scenario{
		Name: name,
		Domains: []policy.Domain{
			{ID: "energy-hub", Connections: []int{1}},
			{ID: "jobs", Connections: []int{0}, Weights: []float64{1}, Profile: policy.ProfileVirtuous},
		},
		Funding: []float64{40, 60},
		Params:  policy.Params{Years: 8, Iterations: 400, DiscountRate: 0.04, Volatility: 0.3},
		Start:   1,
	}
}

func TestSaveAndLoadPresets(t *testing.T) {
	db := openTestDB(t)
	if err := db.SavePresets([]policy.Scenario{testScenario("b"), testScenario("a")}); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadPresets()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("loaded %+v", got)
	}
	sc := got[0]
	if sc.Domains[0].Profile != policy.ProfileHighThroughput {
		t.Errorf("profile = %v, want inferred high-throughput", sc.Domains[0].Profile)
	}
	if sc.Funding[1] != 60 || sc.Start != 1 || sc.Params.Years != 8 {
		t.Errorf("scenario did not round trip: %+v", sc)
	}
}

func TestSavePresetReplaces(t *testing.T) {
	db := openTestDB(t)
	sc := testScenario("a")
	if err := db.SavePreset(sc); err != nil {
		t.Fatal(err)
	}
	sc.Params.Years = 20
	if err := db.SavePreset(sc); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadPreset("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Params.Years != 20 {
		t.Fatalf("years = %d, want 20", got.Params.Years)
	}
	if _, err := db.PresetUpdatedAt("a"); err != nil {
		t.Fatal(err)
	}
}

func TestSavePresetRejectsInvalid(t *testing.T) {
	db := openTestDB(t)
	if err := db.SavePreset(policy.Scenario{Name: "empty"}); err == nil {
		t.Fatal("expected validation error")
	}
	all, _ := db.LoadPresets()
	if len(all) != 0 {
		t.Fatalf("invalid preset stored: %+v", all)
	}
}

func TestDeletePreset(t *testing.T) {
	db := openTestDB(t)
	if err := db.SavePreset(testScenario("a")); err != nil {
		t.Fatal(err)
	}
	if err := db.DeletePreset("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.LoadPreset("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadPreset after delete = %v", err)
	}
	if err := db.DeletePreset("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v", err)
	}
}

func TestDeletePresetClearsDefault(t *testing.T) {
	db := openTestDB(t)
	if err := db.SavePresets([]policy.Scenario{testScenario("a"), testScenario("b")}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMeta(MetaDefaultPreset, "a"); err != nil {
		t.Fatal(err)
	}

	if err := db.DeletePreset("b"); err != nil {
		t.Fatal(err)
	}
	if v, err := db.GetMeta(MetaDefaultPreset); err != nil || v != "a" {
		t.Fatalf("deleting another preset touched the default: %q, %v", v, err)
	}

	if err := db.DeletePreset("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetMeta(MetaDefaultPreset); !errors.Is(err, ErrNotFound) {
		t.Fatalf("default still set after deleting its preset: %v", err)
	}
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetMeta(MetaDefaultPreset); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMeta on empty db = %v", err)
	}
	if err := db.SaveMeta(MetaDefaultPreset, "fragile-state"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMeta(MetaDefaultPreset, "ring-8"); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetMeta(MetaDefaultPreset)
	if err != nil || v != "ring-8" {
		t.Fatalf("GetMeta = %q, %v", v, err)
	}
}

func TestReopenKeepsPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SavePreset(testScenario("kept")); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.LoadPreset("kept"); err != nil {
		t.Fatal(err)
	}
}
