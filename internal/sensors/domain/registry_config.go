package sensors

import (
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// RegistryFile is the YAML shape of sensor overrides.
//
//	sensors:
//	  ph:
//	    threshold: {min: 6.5, max: 8.5}
//	  turbidity:
//	    name: Turbidity (NTU)
type RegistryFile struct {
	Sensors map[string]SensorOverride `yaml:"sensors"`
}

// SensorOverride replaces the fields it sets. A present threshold replaces both bounds.
type SensorOverride struct {
	Name      *string    `yaml:"name"`
	Unit      *string    `yaml:"unit"`
	Threshold *Threshold `yaml:"threshold"`
	Ranges    *Range     `yaml:"ranges"`
}

// LoadRegistry returns the default registry merged with the overrides in path.
// An empty path yields the defaults.
func LoadRegistry(path string) (*Registry, error) {
	base := DefaultRegistry()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sensor registry: read %s", path)
	}
	return MergeRegistryYAML(base, data)
}

// MergeRegistryYAML applies YAML overrides to base. Sensors absent from base are
// appended after the configured ones in lexical order.
func MergeRegistryYAML(base *Registry, data []byte) (*Registry, error) {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "sensor registry: decode yaml")
	}

	configs := base.Configs()
	var added []string
	for id := range file.Sensors {
		if _, ok := base.Lookup(SensorType(id)); !ok {
			added = append(added, id)
		}
	}
	sort.Strings(added)

	for i := range configs {
		if override, ok := file.Sensors[string(configs[i].ID)]; ok {
			configs[i] = mergeSensor(configs[i], override)
		}
	}
	for _, id := range added {
		override := file.Sensors[id]
		if override.Name == nil || *override.Name == "" {
			return nil, errors.Newf("sensor registry: sensor %q needs a name", id)
		}
		configs = append(configs, mergeSensor(SensorConfig{ID: SensorType(id)}, override))
	}

	for _, cfg := range configs {
		if err := validateSensorConfig(cfg); err != nil {
			return nil, err
		}
	}
	return NewRegistry(configs...), nil
}

func mergeSensor(base SensorConfig, override SensorOverride) SensorConfig {
	if override.Name != nil {
		base.Name = *override.Name
	}
	if override.Unit != nil {
		base.Unit = *override.Unit
	}
	if override.Threshold != nil {
		base.Threshold = *override.Threshold
	}
	if override.Ranges != nil {
		base.Ranges = *override.Ranges
	}
	return base
}

func validateSensorConfig(cfg SensorConfig) error {
	if cfg.ID == "" {
		return errors.New("sensor registry: empty sensor id")
	}
	t := cfg.Threshold
	if t.Min != nil && t.Max != nil && *t.Min > *t.Max {
		return errors.Newf("sensor registry: %s threshold min exceeds max", cfg.ID)
	}
	if cfg.Ranges.Min > cfg.Ranges.Max {
		return errors.Newf("sensor registry: %s range min exceeds max", cfg.ID)
	}
	return nil
}
