package sensors

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenFanCore/internal/keymap"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
)

// DiscoverAll enumerates the controller's key table and returns every
// telemetry key that decodes to a number. No range filter is applied.
func DiscoverAll(tr *smc.Transport, keys *keymap.Map) ([]smc.Key, error) {
	total, err := tr.ReadRawValue(keys.KeyCount)
	if err != nil {
		return nil, fmt.Errorf("read key count: %w", err)
	}

	var found []smc.Key
	for i := uint32(0); i < uint32(total); i++ {
		key, err := tr.KeyAtIndex(i)
		if err != nil {
			if smc.IsRejected(err) {
				continue
			}
			return nil, err
		}
		if key[0] != keys.TelemetryPrefix {
			continue
		}

		if _, err := tr.ReadValue(key); err != nil {
			if smc.IsRejected(err) || errors.Is(err, smc.ErrDecode) {
				continue
			}
			return nil, err
		}
		found = append(found, key)
	}

	return found, nil
}
