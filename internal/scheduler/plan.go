package scheduler

import (
	"time"

	"github.com/sim-control/simbridge/internal/config"
)

// PollGroup is a set of sensors sharing one timer.
type PollGroup struct {
	RateHz    float64
	Exclusive bool
	Members   []config.SensorDescriptor
}

// Period returns the tick interval of the group.
func (g PollGroup) Period() time.Duration {
	return time.Duration(float64(time.Second) / g.RateHz)
}

// MemberNames lists member names in poll order.
func (g PollGroup) MemberNames() []string {
	names := make([]string, len(g.Members))
	for i, m := range g.Members {
		names[i] = m.Name
	}
	return names
}

// PlanGroups bins sensors first-fit in input order.
func PlanGroups(sensors []config.SensorDescriptor) []PollGroup {
	var groups []PollGroup
	for _, s := range sensors {
		if !s.ExclusiveTimer {
			placed := false
			for i := range groups {
				if !groups[i].Exclusive && groups[i].RateHz == s.RateHz {
					groups[i].Members = append(groups[i].Members, s)
					placed = true
					break
				}
			}
			if placed {
				continue
			}
		}
		groups = append(groups, PollGroup{
			RateHz:    s.RateHz,
			Exclusive: s.ExclusiveTimer,
			Members:   []config.SensorDescriptor{s},
		})
	}
	return groups
}
