package tuning

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"cluetracker.ai/internal/sim/tracking/engine"
	"cluetracker.ai/internal/sim/tracking/model"
	"cluetracker.ai/internal/sim/tracking/observe"
)

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "fresh_drop_countdown_ticks: 250\ntracked_types: [2677, 2801]\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.FreshDropCountdownTicks != 250 || tu.DespawnToleranceTicks != 1 || tu.SceneRadiusTiles != 52 {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	cfg := tu.EngineConfig([]model.TypeID{1})
	if len(cfg.TrackedTypes) != 2 || cfg.TrackedTypes[0] != 2677 {
		t.Fatalf("tracked types override ignored: %v", cfg.TrackedTypes)
	}
}

func TestLoad_Invalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("visible_zone_distance: 9\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestEngineConfig_UsesCatalogTypes(t *testing.T) {
	cfg := Defaults().EngineConfig([]model.TypeID{2677})
	if len(cfg.TrackedTypes) != 1 || cfg.TrackedTypes[0] != 2677 {
		t.Fatalf("unexpected types: %v", cfg.TrackedTypes)
	}
	if cfg.ChurnZoneDistance != 6 || cfg.VisibleZoneDistance != 5 {
		t.Fatalf("unexpected zones: %+v", cfg)
	}
}

func TestLoad_ShippedConfigMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	if got.FreshDropCountdownTicks != want.FreshDropCountdownTicks ||
		got.VisibleZoneDistance != want.VisibleZoneDistance ||
		got.ChurnZoneDistance != want.ChurnZoneDistance ||
		len(got.TrackedTypes) != 0 {
		t.Fatalf("shipped tuning drifted from defaults: %+v", got)
	}
}

func TestDefaults_MatchEngineDefaults(t *testing.T) {
	d := Defaults()
	if d.FreshDropCountdownTicks != d.MaxContentLifetimeTicks-d.DespawnToleranceTicks {
		t.Fatalf("fresh drop threshold %d not lifetime less tolerance", d.FreshDropCountdownTicks)
	}
	cfg := d.EngineConfig([]model.TypeID{2677})
	eng, err := engine.New(engine.Config{TrackedTypes: cfg.TrackedTypes}, observe.NewScene(d.SceneRadiusTiles))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if got := eng.Config(); !reflect.DeepEqual(got, cfg) {
		t.Fatalf("engine defaults %+v differ from tuning %+v", got, cfg)
	}

	d.DespawnToleranceTicks = 0
	if err := d.Validate(); err == nil {
		t.Fatalf("zero tolerance should be rejected")
	}
}
