// Package scheduler polls sensors on a minimal set of timers.
//
// PlanGroups bins sensor descriptors first-fit on (rate, exclusive):
// non-exclusive sensors share a group with every earlier sensor of the
// exact same rate, exclusive sensors always get a group of their own.
// The plan is computed once and never re-binned.
//
// A Scheduler runs one loop per group. Each tick polls the group's
// members in order; one member failing is logged (throttled per
// sensor) and does not stop the others. Loops end at their next tick
// once the session state is Shutdown, or when their context ends.
package scheduler
