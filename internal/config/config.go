// Package config loads driftline's runtime configuration from a TOML
// file, with environment-variable overrides for the connection strings
// that normally differ between deployments.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"driftline/internal/placement"
)

// Config is the full set of tunables driftline needs at startup: where to
// persist metadata, how to reach each backend, how to pace upstream
// consumption, and the placement engine's threshold table.
type Config struct {
	MetadataFile string `toml:"metadata_file"`

	SQLDB  string `toml:"sql_db"`
	DocURI string `toml:"doc_uri"`
	DocDB  string `toml:"doc_db"`

	APIURL      string `toml:"api_url"`
	BatchSize   int    `toml:"batch_size"`
	TotalBatches int   `toml:"total_batches"`
	DelaySeconds float64 `toml:"delay"`

	CheckpointEvery int `toml:"checkpoint_every"`

	Thresholds ThresholdsConfig `toml:"thresholds"`
}

// ThresholdsConfig mirrors placement.Thresholds field-for-field so it can
// be expressed in TOML; Mandatory is fixed by the domain and not
// configurable.
type ThresholdsConfig struct {
	FreqHighMin     float64 `toml:"freq_high_min"`
	FreqMediumMin   float64 `toml:"freq_medium_min"`
	StabStableMin   float64 `toml:"stab_stable_min"`
	StabModerateMin float64 `toml:"stab_moderate_min"`

	MinObservations int64 `toml:"min_observations"`

	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	MinorDrift          float64 `toml:"minor_drift"`
	ModerateDrift       float64 `toml:"moderate_drift"`

	NullRatioMax          float64 `toml:"null_ratio_max"`
	BoosterPromotionCount int     `toml:"booster_promotion_count"`
	RelaxedFrequency      float64 `toml:"relaxed_frequency"`
	RelaxedStability      float64 `toml:"relaxed_stability"`
}

// Default returns the configuration the original standalone scripts used:
// a local MySQL server, a local MongoDB, and the standard placement
// threshold table.
func Default() Config {
	t := placement.DefaultThresholds()
	return Config{
		MetadataFile:    "metadata_state.json",
		SQLDB:           "driftline:driftline@tcp(127.0.0.1:3306)/driftline",
		DocURI:          "mongodb://localhost:27017/",
		DocDB:           "ingestion_db",
		APIURL:          "http://127.0.0.1:8000",
		BatchSize:       100,
		TotalBatches:    10,
		DelaySeconds:    1.0,
		CheckpointEvery: 10,
		Thresholds: ThresholdsConfig{
			FreqHighMin:           t.FreqHighMin,
			FreqMediumMin:         t.FreqMediumMin,
			StabStableMin:         t.StabStableMin,
			StabModerateMin:       t.StabModerateMin,
			MinObservations:       t.MinObservations,
			ConfidenceThreshold:   t.ConfidenceThreshold,
			MinorDrift:            t.MinorDrift,
			ModerateDrift:         t.ModerateDrift,
			NullRatioMax:          t.NullRatioMax,
			BoosterPromotionCount: t.BoosterPromotionCount,
			RelaxedFrequency:      t.RelaxedFrequency,
			RelaxedStability:      t.RelaxedStability,
		},
	}
}

// Load reads path as TOML into a copy of Default, so any key the file
// omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnvOverrides lets deployment-specific connection strings come from
// the environment instead of the checked-in TOML file.
func (c Config) ApplyEnvOverrides() Config {
	if v := os.Getenv("DRIFTLINE_SQL_DB"); v != "" {
		c.SQLDB = v
	}
	if v := os.Getenv("DRIFTLINE_DOC_URI"); v != "" {
		c.DocURI = v
	}
	if v := os.Getenv("DRIFTLINE_API_URL"); v != "" {
		c.APIURL = v
	}
	return c
}

// ToThresholds converts the TOML-shaped threshold table into the
// placement engine's runtime type, restoring the fixed mandatory set.
func (c Config) ToThresholds() placement.Thresholds {
	tc := c.Thresholds
	return placement.Thresholds{
		FreqHighMin:           tc.FreqHighMin,
		FreqMediumMin:         tc.FreqMediumMin,
		StabStableMin:         tc.StabStableMin,
		StabModerateMin:       tc.StabModerateMin,
		MinObservations:       tc.MinObservations,
		ConfidenceThreshold:   tc.ConfidenceThreshold,
		MinorDrift:            tc.MinorDrift,
		ModerateDrift:         tc.ModerateDrift,
		NullRatioMax:          tc.NullRatioMax,
		BoosterPromotionCount: tc.BoosterPromotionCount,
		RelaxedFrequency:      tc.RelaxedFrequency,
		RelaxedStability:      tc.RelaxedStability,
		Mandatory: map[string]bool{
			"username":        true,
			"sys_ingested_at": true,
			"t_stamp":         true,
		},
	}
}
