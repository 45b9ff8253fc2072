package period

import (
	"time"

	"github.com/derickschaefer/kwchart/internal/model"
)

// Describe reports the bounds of (m, ref) together with m's interval menu.
func (c *Calculator) Describe(m Mode, ref time.Time) model.BoundsData {
	b := c.Bounds(m, ref)
	ivs := Intervals(m)
	names := make([]string, len(ivs))
	for i, iv := range ivs {
		names[i] = string(iv)
	}
	return model.BoundsData{
		Period:     m.String(),
		Timezone:   c.loc().String(),
		Start:      b.Start,
		End:        b.End,
		DisplayEnd: b.DisplayEnd,
		Empty:      b.Empty(),
		Intervals:  names,
		Default:    string(DefaultInterval(m)),
	}
}
