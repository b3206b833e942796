package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cluetracker.ai/internal/sim/tracking/engine"
	"cluetracker.ai/internal/sim/tracking/model"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	DespawnToleranceTicks   int `yaml:"despawn_tolerance_ticks"`
	MaxContentLifetimeTicks int `yaml:"max_content_lifetime_ticks"`
	// FreshDropCountdownTicks defaults to the lifetime less the tolerance:
	// the host may report a fresh drop one skewed tick short of full.
	FreshDropCountdownTicks int `yaml:"fresh_drop_countdown_ticks"`
	PendingTTLTicks         int `yaml:"pending_ttl_ticks"`

	ZoneSizeTiles       int `yaml:"zone_size_tiles"`
	VisibleZoneDistance int `yaml:"visible_zone_distance"`
	ChurnZoneDistance   int `yaml:"churn_zone_distance"`
	SceneRadiusTiles    int `yaml:"scene_radius_tiles"`

	RenotifyDelayMs   int `yaml:"renotify_delay_ms"`
	SaveEveryTicks    int `yaml:"save_every_ticks"`
	OverlayEveryTicks int `yaml:"overlay_every_ticks"`

	// TrackedTypes overrides the object types taken from the catalog.
	TrackedTypes []int `yaml:"tracked_types"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:         "1.0",
		DespawnToleranceTicks:   engine.DefaultDespawnToleranceTicks,
		MaxContentLifetimeTicks: engine.DefaultMaxContentLifetimeTicks,
		FreshDropCountdownTicks: engine.DefaultMaxContentLifetimeTicks - engine.DefaultDespawnToleranceTicks,
		PendingTTLTicks:         1,
		ZoneSizeTiles:           model.DefaultZoneSize,
		VisibleZoneDistance:     5,
		ChurnZoneDistance:       6,
		SceneRadiusTiles:        52,
		RenotifyDelayMs:         3000,
		SaveEveryTicks:          100,
		OverlayEveryTicks:       1,
	}
}

// Load reads path over the defaults, so a partial file only overrides what
// it sets.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.DespawnToleranceTicks <= 0:
		return fmt.Errorf("despawn_tolerance_ticks must be > 0")
	case t.MaxContentLifetimeTicks <= 0:
		return fmt.Errorf("max_content_lifetime_ticks must be > 0")
	case t.FreshDropCountdownTicks <= 0 || t.FreshDropCountdownTicks > t.MaxContentLifetimeTicks:
		return fmt.Errorf("fresh_drop_countdown_ticks must be in (0, max_content_lifetime_ticks]")
	case t.PendingTTLTicks <= 0:
		return fmt.Errorf("pending_ttl_ticks must be > 0")
	case t.ZoneSizeTiles <= 0:
		return fmt.Errorf("zone_size_tiles must be > 0")
	case t.VisibleZoneDistance <= 0 || t.ChurnZoneDistance <= 0:
		return fmt.Errorf("zone distances must be > 0")
	case t.VisibleZoneDistance >= t.ChurnZoneDistance:
		// A churned tile must not be cleared on the very next tick.
		return fmt.Errorf("visible_zone_distance must be < churn_zone_distance")
	case t.SceneRadiusTiles < 0:
		return fmt.Errorf("scene_radius_tiles must be >= 0")
	}
	return nil
}

func (t Tuning) RenotifyDelay() time.Duration {
	return time.Duration(t.RenotifyDelayMs) * time.Millisecond
}

// EngineConfig maps tuning onto the engine. catalogTypes is used unless the
// file names its own tracked types.
func (t Tuning) EngineConfig(catalogTypes []model.TypeID) engine.Config {
	types := catalogTypes
	if len(t.TrackedTypes) > 0 {
		types = make([]model.TypeID, 0, len(t.TrackedTypes))
		for _, id := range t.TrackedTypes {
			types = append(types, model.TypeID(id))
		}
	}
	return engine.Config{
		TrackedTypes:            types,
		DespawnToleranceTicks:   t.DespawnToleranceTicks,
		FreshDropCountdownTicks: t.FreshDropCountdownTicks,
		ZoneSizeTiles:           t.ZoneSizeTiles,
		VisibleZoneDistance:     t.VisibleZoneDistance,
		ChurnZoneDistance:       t.ChurnZoneDistance,
		PendingTTLTicks:         t.PendingTTLTicks,
	}
}
