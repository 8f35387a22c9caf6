package domain

import "testing"

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to JobState }{
		{JobStateQueued, JobStateRunning},
		{JobStateQueued, JobStateCancelled},
		{JobStateRunning, JobStateSucceeded},
		{JobStateRunning, JobStateFailed},
		{JobStateFailed, JobStateQueued},
		{JobStateFailed, JobStateDeadLettered},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to JobState }{
		{JobStateQueued, JobStateSucceeded},
		{JobStateQueued, JobStateFailed},
		{JobStateRunning, JobStateCancelled},
		{JobStateRunning, JobStateQueued},
		{JobStateSucceeded, JobStateQueued},
		{JobStateSucceeded, JobStateRunning},
		{JobStateCancelled, JobStateRunning},
		{JobStateDeadLettered, JobStateQueued},
		{JobStateFailed, JobStateRunning},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := map[JobState]bool{
		JobStateQueued:       false,
		JobStateRunning:      false,
		JobStateFailed:       false,
		JobStateSucceeded:    true,
		JobStateDeadLettered: true,
		JobStateCancelled:    true,
	}
	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}
