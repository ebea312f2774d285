// Package config holds the numeric knobs spec.md leaves as "configuration,
// not a fixed constant". It deliberately does not parse CLI flags or a full
// application config file — spec.md §1 places CLI loading and
// configuration parsing outside the core; an embedding application is
// expected to build a Tunables value (or load one from YAML) and pass it in.
package config

import (
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Tunables collects every parameter the spec names as peer-local
// configuration rather than a protocol constant.
type Tunables struct {
	// Arc resizing (§4.7).
	MinPower        uint8   `yaml:"min_power"`
	MaxPower        uint8   `yaml:"max_power"`
	MaxPowerDiff     uint8   `yaml:"max_power_diff"`
	MinChunks        uint32  `yaml:"min_chunks"`
	MaxChunks        uint32  `yaml:"max_chunks"`
	MinCoverage      float64 `yaml:"min_coverage"`
	ResizeInterval   time.Duration `yaml:"resize_interval"`

	// Gossip (§4.8).
	MaxTimeOffset        time.Duration      `yaml:"max_time_offset"`
	MaxSpacePowerOffset  uint8              `yaml:"max_space_power_offset"`
	RoundTimeout         time.Duration      `yaml:"round_timeout"`
	RecentWindow         time.Duration      `yaml:"recent_window"` // open question #2: tunable, not a constant
	BloomFPRate          float64            `yaml:"bloom_fp_rate"`
	MaxFrameSize         datasize.ByteSize  `yaml:"max_frame_size"`
	IncomingQueueWarnLen int                `yaml:"incoming_queue_warn_len"`
	SnappyThreshold      datasize.ByteSize  `yaml:"snappy_threshold"`

	// Validation/integration (§4.3, §4.6).
	RequiredValidations uint32        `yaml:"required_validations"`
	PublishBackoffMin   time.Duration `yaml:"publish_backoff_min"`
	PublishBackoffMax   time.Duration `yaml:"publish_backoff_max"`

	// Cell controller (§4.9, §5).
	InitTimeout time.Duration `yaml:"init_timeout"`

	// Cascade (§4.5).
	CacheSize int `yaml:"cache_size"`
}

// DefaultTunables returns values consistent with the numeric examples given
// in spec.md (30s init timeout, 1% bloom FP rate, ~16KiB frames, default
// required_validations).
func DefaultTunables() Tunables {
	return Tunables{
		MinPower:       1,
		MaxPower:       29,
		MaxPowerDiff:   2,
		MinChunks:      8,
		MaxChunks:      64,
		MinCoverage:    50,
		ResizeInterval: 5 * time.Minute,

		MaxTimeOffset:        2 * time.Minute,
		MaxSpacePowerOffset:  2,
		RoundTimeout:         60 * time.Second,
		RecentWindow:         time.Hour,
		BloomFPRate:          0.01,
		MaxFrameSize:         16 * datasize.KB,
		IncomingQueueWarnLen: 20,
		SnappyThreshold:      4 * datasize.KB,

		RequiredValidations: 5,
		PublishBackoffMin:   time.Second,
		PublishBackoffMax:   5 * time.Minute,

		InitTimeout: 30 * time.Second,

		CacheSize: 10_000,
	}
}

// LoadYAML overlays a YAML file's fields onto DefaultTunables. Unset fields
// keep their default.
func LoadYAML(path string) (Tunables, error) {
	t := DefaultTunables()
	b, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(b, &t); err != nil {
		return t, err
	}
	return t, nil
}
