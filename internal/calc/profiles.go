package calc

import (
	"fmt"

	"curtailsync/config"
)

// DeviceProfile is a static hardware configuration used as the
// energy-equivalence unit.
type DeviceProfile struct {
	Name       string
	HashrateTH float64
	PowerW     float64
}

// defaultProfiles is the built-in registry, used when config carries none.
var defaultProfiles = []DeviceProfile{
	{Name: "Antminer S19 Pro", HashrateTH: 110, PowerW: 3250},
	{Name: "Antminer S19j Pro", HashrateTH: 104, PowerW: 3068},
	{Name: "Whatsminer M30S++", HashrateTH: 112, PowerW: 3472},
}

// ProfilesFromConfig validates the configured device profiles, falling back
// to the built-in registry when the config carries none. An invalid profile
// is a configuration error, surfaced immediately.
func ProfilesFromConfig(cfgProfiles []config.DeviceProfile) ([]DeviceProfile, error) {
	if len(cfgProfiles) == 0 {
		out := make([]DeviceProfile, len(defaultProfiles))
		copy(out, defaultProfiles)
		return out, nil
	}

	profiles := make([]DeviceProfile, 0, len(cfgProfiles))
	seen := map[string]bool{}
	for _, p := range cfgProfiles {
		if p.Name == "" {
			return nil, fmt.Errorf("device profile with empty name")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate device profile %q", p.Name)
		}
		if p.HashrateTH <= 0 || p.PowerW <= 0 {
			return nil, fmt.Errorf("device profile %q: hashrate and power must be positive", p.Name)
		}
		seen[p.Name] = true
		profiles = append(profiles, DeviceProfile{
			Name:       p.Name,
			HashrateTH: p.HashrateTH,
			PowerW:     p.PowerW,
		})
	}
	return profiles, nil
}
