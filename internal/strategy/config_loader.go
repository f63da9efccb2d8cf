package strategy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kiwoom-core/pkg/config"
	"kiwoom-core/pkg/exchanges/common"
)

var errNotLive = common.ErrStrategyNotLive

// packFile is the YAML layout of STRATEGY_PACK_PATH. Params absent from the
// file keep their config defaults.
type packFile struct {
	Pack Pack `yaml:"pack"`
}

// LoadPack reads a pack from path on top of the defaults. An empty path
// returns DefaultPack.
func LoadPack(path string, d config.StrategyDefaults) (*Pack, error) {
	pack := DefaultPack(d)
	if path == "" {
		return pack, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy pack: %w", err)
	}
	return ParsePack(data, d)
}

// ParsePack decodes YAML into a pack seeded with defaults.
func ParsePack(data []byte, d config.StrategyDefaults) (*Pack, error) {
	file := packFile{Pack: *DefaultPack(d)}
	// Lists replace the defaults instead of merging into them.
	file.Pack.RiskOverlays = nil
	file.Pack.ExitOverlays = nil
	file.Pack.Params.PartialLevels = nil
	file.Pack.Capabilities = nil

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse strategy pack: %w", err)
	}
	pack := &file.Pack

	if pack.Params.PartialLevels == nil {
		pack.Params.PartialLevels = DefaultParams(d).PartialLevels
	}
	caps := DefaultCapabilities()
	for name, c := range pack.Capabilities {
		caps[name] = c
	}
	pack.Capabilities = caps

	if err := pack.Validate(); err != nil {
		return nil, err
	}
	return pack, nil
}

// IsNotLive reports whether err came from the live capability guard.
func IsNotLive(err error) bool {
	return errors.Is(err, errNotLive)
}
