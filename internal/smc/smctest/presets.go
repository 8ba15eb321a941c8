package smctest

import (
	"fmt"

	"github.com/KevinKickass/OpenFanCore/internal/smc"
)

// Fan describes one simulated fan.
type Fan struct {
	Min     float64
	Max     float64
	Current float64
}

// Mode register values used by the presets.
const (
	ModeAuto          = 0
	ModeForced        = 1
	ModeFirmwareOwned = 3
)

// NewAppleSilicon models the arbitration-capable variant: float32 fan
// registers, lowercase mode keys that read ModeFirmwareOwned until the
// "Ftst" override is set, and float temperature sensors.
func NewAppleSilicon(fans ...Fan) *Controller {
	c := New()
	c.alternate = true

	c.SetUI8("FNum", uint8(len(fans)))
	c.SetUI8("Ftst", 0)
	for i, f := range fans {
		c.SetUI8(fmt.Sprintf("F%dmd", i), ModeFirmwareOwned)
		c.SetFloat(fmt.Sprintf("F%dMn", i), f.Min)
		c.SetFloat(fmt.Sprintf("F%dMx", i), f.Max)
		c.SetFloat(fmt.Sprintf("F%dAc", i), f.Current)
		c.SetFloat(fmt.Sprintf("F%dTg", i), f.Min)
	}

	c.SetFloat("Tp01", 48.5)
	c.SetFloat("Tp05", 52.25)
	c.SetFloat("Tg05", 41)
	c.SetFloat("TB0T", 31)
	c.SetFloat("TCMz", 0)
	c.SetFloat("TPD0", 4)
	c.SetFloat("TW0P", 180)
	c.SetUI8("BNum", 1)

	// Firmware yields fan modes once the override is set.
	c.OnWrite(func(c *Controller, key smc.Key, data []byte) {
		if key != smc.MustKey("Ftst") || len(data) == 0 || data[0] == 0 {
			return
		}
		for i := range fans {
			k := fmt.Sprintf("F%dmd", i)
			if b := c.Bytes(k); len(b) == 1 && b[0] == ModeFirmwareOwned {
				c.SetUI8(k, ModeAuto)
			}
		}
	})

	c.SetUI32("#KEY", uint32(len(c.order)+1))
	return c
}

// NewIntel models the non-arbitration variant: fpe2 fan registers,
// uppercase mode keys, a force bitmask and sp78 temperature sensors.
func NewIntel(fans ...Fan) *Controller {
	c := New()

	c.SetUI8("FNum", uint8(len(fans)))
	c.SetUI16("FS! ", 0)
	for i, f := range fans {
		c.SetUI8(fmt.Sprintf("F%dMd", i), ModeAuto)
		c.SetFPE2(fmt.Sprintf("F%dMn", i), f.Min)
		c.SetFPE2(fmt.Sprintf("F%dMx", i), f.Max)
		c.SetFPE2(fmt.Sprintf("F%dAc", i), f.Current)
		c.SetFPE2(fmt.Sprintf("F%dTg", i), f.Min)
	}

	c.SetSP78("TC0P", 55.5)
	c.SetSP78("TG0P", 47)
	c.SetSP78("TB0T", 30)

	c.SetUI32("#KEY", uint32(len(c.order)+1))
	return c
}

// Opener returns an smc.Opener serving c for any service name.
func (c *Controller) Opener() smc.Opener {
	return func(string) (smc.Conn, error) {
		return c, nil
	}
}
