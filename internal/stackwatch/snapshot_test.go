package stackwatch

import (
	"testing"
	"time"

	"github.com/stackhand/console/pkg/models"
)

func TestBuildSnapshotCarriesTransitionTimes(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(10 * time.Second)

	first := buildSnapshot(&models.StackStatusPayload{
		StackName: "web",
		Status:    "CREATE_IN_PROGRESS",
		Resources: []models.ResourcePayload{
			{LogicalID: "Bucket", Type: "AWS::S3::Bucket", Status: "CREATE_IN_PROGRESS"},
			{LogicalID: "Queue", Type: "AWS::SQS::Queue", Status: "CREATE_COMPLETE"},
		},
	}, nil, t0)

	second := buildSnapshot(&models.StackStatusPayload{
		StackName: "web",
		Status:    "CREATE_IN_PROGRESS",
		Resources: []models.ResourcePayload{
			{LogicalID: "Bucket", Type: "AWS::S3::Bucket", Status: "CREATE_COMPLETE"},
			{LogicalID: "Queue", Type: "AWS::SQS::Queue", Status: "CREATE_COMPLETE"},
		},
	}, &first, t1)

	bucket, ok := second.Resource("Bucket")
	if !ok {
		t.Fatal("Resource(Bucket) not found")
	}
	if !bucket.LastTransitionAt.Equal(t1) {
		t.Errorf("changed resource LastTransitionAt = %v, want %v", bucket.LastTransitionAt, t1)
	}
	queue, _ := second.Resource("Queue")
	if !queue.LastTransitionAt.Equal(t0) {
		t.Errorf("unchanged resource LastTransitionAt = %v, want %v", queue.LastTransitionAt, t0)
	}
}

func TestBuildSnapshotDropsDuplicateLogicalIDs(t *testing.T) {
	snap := buildSnapshot(&models.StackStatusPayload{
		StackName: "web",
		Status:    "CREATE_IN_PROGRESS",
		Resources: []models.ResourcePayload{
			{LogicalID: "Bucket", Status: "CREATE_IN_PROGRESS"},
			{LogicalID: "Role", Status: "CREATE_COMPLETE"},
			{LogicalID: "Bucket", Status: "CREATE_COMPLETE"},
		},
	}, nil, time.Now())

	if len(snap.Resources) != 2 {
		t.Fatalf("got %d resources, want 2", len(snap.Resources))
	}
	if snap.Resources[0].LogicalID != "Bucket" || snap.Resources[1].LogicalID != "Role" {
		t.Errorf("resource order = [%s %s], want [Bucket Role]",
			snap.Resources[0].LogicalID, snap.Resources[1].LogicalID)
	}
	if snap.Resources[0].Status != models.ResourceInProgress {
		t.Errorf("first occurrence wins: Status = %q, want %q",
			snap.Resources[0].Status, models.ResourceInProgress)
	}
}

func TestProgressScalesSettledResources(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     int
	}{
		{"none settled", []string{"CREATE_IN_PROGRESS", "CREATE_IN_PROGRESS"}, 5},
		{"half settled", []string{"CREATE_COMPLETE", "CREATE_IN_PROGRESS"}, 50},
		{"all settled but stack live", []string{"CREATE_COMPLETE", "CREATE_COMPLETE"}, 99},
		{"failed counts as settled", []string{"CREATE_FAILED", "CREATE_IN_PROGRESS"}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resources []models.ResourcePayload
			for i, s := range tt.statuses {
				resources = append(resources, models.ResourcePayload{
					LogicalID: string(rune('A' + i)),
					Status:    s,
				})
			}
			snap := buildSnapshot(&models.StackStatusPayload{
				StackName: "web",
				Status:    "CREATE_IN_PROGRESS",
				Resources: resources,
			}, nil, time.Now())
			if snap.ProgressPercent != tt.want {
				t.Errorf("ProgressPercent = %d, want %d", snap.ProgressPercent, tt.want)
			}
		})
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	prev := buildSnapshot(&models.StackStatusPayload{
		StackName: "web",
		Status:    "CREATE_IN_PROGRESS",
		Resources: []models.ResourcePayload{
			{LogicalID: "A", Status: "CREATE_COMPLETE"},
			{LogicalID: "B", Status: "CREATE_COMPLETE"},
			{LogicalID: "C", Status: "CREATE_IN_PROGRESS"},
		},
	}, nil, time.Now())

	// A rollback flips settled resources back to in-progress. Reported
	// progress holds at the previous value instead of dropping.
	next := buildSnapshot(&models.StackStatusPayload{
		StackName: "web",
		Status:    "ROLLBACK_IN_PROGRESS",
		Resources: []models.ResourcePayload{
			{LogicalID: "A", Status: "DELETE_IN_PROGRESS"},
			{LogicalID: "B", Status: "DELETE_IN_PROGRESS"},
			{LogicalID: "C", Status: "DELETE_IN_PROGRESS"},
		},
	}, &prev, time.Now())

	if next.ProgressPercent < prev.ProgressPercent {
		t.Errorf("ProgressPercent dropped %d -> %d", prev.ProgressPercent, next.ProgressPercent)
	}
}

func TestFinalizeProgressSetsHundred(t *testing.T) {
	snap := buildSnapshot(&models.StackStatusPayload{
		StackName: "web",
		Status:    "CREATE_COMPLETE",
		Resources: []models.ResourcePayload{
			{LogicalID: "A", Status: "CREATE_COMPLETE"},
		},
	}, nil, time.Now())
	finalizeProgress(&snap)
	if snap.ProgressPercent != 100 {
		t.Errorf("ProgressPercent = %d, want 100", snap.ProgressPercent)
	}
}
