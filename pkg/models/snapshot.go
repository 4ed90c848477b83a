package models

import (
	"sort"
	"time"
)

// PodPhase is the normalized lifecycle phase of a pod at one poll tick.
type PodPhase string

const (
	PhasePending           PodPhase = "Pending"
	PhaseContainerCreating PodPhase = "ContainerCreating"
	PhaseRunning           PodPhase = "Running"
	PhaseSucceeded         PodPhase = "Succeeded"
	PhaseFailed            PodPhase = "Failed"
	PhaseUnknown           PodPhase = "Unknown"
)

// PodObservation is one pod as seen at one poll tick.
type PodObservation struct {
	Name              string
	ReadyContainers   int
	TotalContainers   int
	Phase             PodPhase
	Reason            string // waiting/terminated container reason, e.g. CrashLoopBackOff
	RestartCount      int32
	Age               time.Duration
	NodeName          string
	CreationTimestamp time.Time
}

// Ready returns true if every container of the pod reports ready.
func (o PodObservation) Ready() bool {
	return o.TotalContainers > 0 && o.ReadyContainers == o.TotalContainers
}

// RolloutSnapshot aggregates all pod observations of a target at one tick.
type RolloutSnapshot struct {
	Observations []PodObservation
	TotalCount   int
	ReadyCount   int
	Taken        time.Time
}

// NewRolloutSnapshot builds a snapshot ordered by pod name.
func NewRolloutSnapshot(observations []PodObservation, taken time.Time) RolloutSnapshot {
	obs := make([]PodObservation, len(observations))
	copy(obs, observations)
	sort.Slice(obs, func(i, j int) bool { return obs[i].Name < obs[j].Name })

	ready := 0
	for _, o := range obs {
		if o.Ready() {
			ready++
		}
	}

	return RolloutSnapshot{
		Observations: obs,
		TotalCount:   len(obs),
		ReadyCount:   ready,
		Taken:        taken,
	}
}

// Converged reports whether at least one pod exists and all pods are ready.
func (s RolloutSnapshot) Converged() bool {
	return s.TotalCount > 0 && s.ReadyCount == s.TotalCount
}

// Newest returns the most recently created pod. Ties go to the
// lexicographically smallest name.
func (s RolloutSnapshot) Newest() (PodObservation, bool) {
	if len(s.Observations) == 0 {
		return PodObservation{}, false
	}

	newest := s.Observations[0]
	for _, o := range s.Observations[1:] {
		switch {
		case o.CreationTimestamp.After(newest.CreationTimestamp):
			newest = o
		case o.CreationTimestamp.Equal(newest.CreationTimestamp) && o.Name < newest.Name:
			newest = o
		}
	}
	return newest, true
}
