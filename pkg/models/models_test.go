package models

import "testing"

func TestResourceStateFromStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want ResourceState
	}{
		{"", ResourcePending},
		{"CREATE_IN_PROGRESS", ResourceInProgress},
		{"UPDATE_IN_PROGRESS", ResourceInProgress},
		{"CREATE_COMPLETE", ResourceComplete},
		{"CREATE_FAILED", ResourceFailed},
		{"DELETE_FAILED", ResourceFailed},
		{"ROLLBACK_COMPLETE", ResourceRolledBack},
		{"DELETE_COMPLETE", ResourceRolledBack},
		{"SOMETHING_NEW", ResourcePending},
	}
	for _, tt := range tests {
		if got := ResourceStateFromStatus(tt.raw); got != tt.want {
			t.Errorf("ResourceStateFromStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestPollStateStopped(t *testing.T) {
	if PollRunning.Stopped() {
		t.Error("PollRunning.Stopped() = true, want false")
	}
	for _, s := range []PollState{PollStoppedTerminal, PollStoppedTimeout, PollStoppedCancelled, PollStoppedError} {
		if !s.Stopped() {
			t.Errorf("%q.Stopped() = false, want true", s)
		}
	}
}

func TestSnapshotResourceLookup(t *testing.T) {
	snap := StackSnapshot{
		Resources: []ResourceStatus{
			{LogicalID: "Bucket", Status: ResourceComplete},
			{LogicalID: "Queue", Status: ResourceInProgress},
		},
	}
	if r, ok := snap.Resource("Queue"); !ok || r.Status != ResourceInProgress {
		t.Errorf("Resource(Queue) = (%+v, %v), want in_progress resource", r, ok)
	}
	if _, ok := snap.Resource("Ghost"); ok {
		t.Error("Resource(Ghost) found, want miss")
	}
}
