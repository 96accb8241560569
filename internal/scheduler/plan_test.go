package scheduler

import (
	"reflect"
	"testing"
	"time"

	"github.com/sim-control/simbridge/internal/config"
)

func sensor(name string, rate float64, exclusive bool) config.SensorDescriptor {
	return config.SensorDescriptor{Name: name, RateHz: rate, ExclusiveTimer: exclusive, Spec: config.ImuSpec{}}
}

func TestPlanGroups(t *testing.T) {
	tests := []struct {
		name    string
		sensors []config.SensorDescriptor
		want    [][]string
	}{
		{
			name:    "camera imu lidar",
			sensors: []config.SensorDescriptor{sensor("cam", 10, false), sensor("imu", 10, false), sensor("lidar", 10, true)},
			want:    [][]string{{"cam", "imu"}, {"lidar"}},
		},
		{
			name:    "mixed rates keep first-fit order",
			sensors: []config.SensorDescriptor{sensor("a", 10, false), sensor("b", 20, false), sensor("c", 10, false), sensor("d", 20, false)},
			want:    [][]string{{"a", "c"}, {"b", "d"}},
		},
		{
			name:    "exclusive sensors never share",
			sensors: []config.SensorDescriptor{sensor("x", 5, true), sensor("y", 5, true), sensor("z", 5, false)},
			want:    [][]string{{"x"}, {"y"}, {"z"}},
		},
		{
			name:    "near-equal rates are distinct",
			sensors: []config.SensorDescriptor{sensor("a", 10, false), sensor("b", 10.0001, false)},
			want:    [][]string{{"a"}, {"b"}},
		},
		{
			name: "empty",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := PlanGroups(tt.sensors)
			var got [][]string
			for _, g := range groups {
				got = append(got, g.MemberNames())
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected groups %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPlanGroupsInvariants(t *testing.T) {
	sensors := []config.SensorDescriptor{
		sensor("a", 10, false), sensor("b", 5, true), sensor("c", 10, false),
		sensor("d", 30, false), sensor("e", 10, true), sensor("f", 30, false),
	}
	groups := PlanGroups(sensors)

	total := 0
	for _, g := range groups {
		total += len(g.Members)
		if g.Exclusive && len(g.Members) != 1 {
			t.Errorf("exclusive group has %d members", len(g.Members))
		}
		for _, m := range g.Members {
			if m.RateHz != g.RateHz {
				t.Errorf("member %s rate %v in group of rate %v", m.Name, m.RateHz, g.RateHz)
			}
			if m.ExclusiveTimer != g.Exclusive {
				t.Errorf("member %s exclusivity mismatch", m.Name)
			}
		}
	}
	if total != len(sensors) {
		t.Errorf("Expected %d planned sensors, got %d", len(sensors), total)
	}

	if again := PlanGroups(sensors); !reflect.DeepEqual(groups, again) {
		t.Error("PlanGroups is not deterministic")
	}
}

func TestPollGroupPeriod(t *testing.T) {
	if got := (PollGroup{RateHz: 10}).Period(); got != 100*time.Millisecond {
		t.Errorf("Expected Period() 100ms, got %v", got)
	}
	if got := (PollGroup{RateHz: 200}).Period(); got != 5*time.Millisecond {
		t.Errorf("Expected Period() 5ms, got %v", got)
	}
}
