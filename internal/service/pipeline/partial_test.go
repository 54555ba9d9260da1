package pipeline

import (
	"testing"
	"time"
)

func TestTracker_TracksLatestAndLongest(t *testing.T) {
	tr := NewTracker()
	tr.Update("the cat")
	tr.Update("the c")
	tr.Update("the cat sat on the mat")

	snap := tr.Snapshot()
	if snap.LatestText != "the c" {
		t.Errorf("expected latest to be the most recently received partial, got %q", snap.LatestText)
	}
	if snap.LongestText != "the cat sat on the mat" {
		t.Errorf("expected longest to track the longest partial seen, got %q", snap.LongestText)
	}
}

func TestTracker_ResetClearsState(t *testing.T) {
	tr := NewTracker()
	tr.Update("some partial text")
	tr.Reset()

	snap := tr.Snapshot()
	if snap.LatestText != "" || snap.LongestText != "" {
		t.Errorf("expected Reset to clear tracked state, got %+v", snap)
	}
}

func TestTracker_CheckLongestExtends(t *testing.T) {
	tr := NewTracker()
	tr.Update("the weather today is")
	tr.Update("the weather today is looking rather nice")

	ext, ok := tr.CheckLongestExtends("the weather today is", time.Second)
	if !ok {
		t.Fatal("expected longest partial to extend the given base")
	}
	if ext.ExtendedText != "the weather today is looking rather nice" {
		t.Errorf("unexpected extended text: %q", ext.ExtendedText)
	}
	if len(ext.MissingWords) == 0 {
		t.Error("expected missing words beyond the base")
	}
}

func TestTracker_CheckExtends_RejectsStalePartial(t *testing.T) {
	tr := NewTracker()
	tr.Update("the weather today is looking rather nice")

	_, ok := tr.CheckLongestExtends("the weather today is", time.Nanosecond)
	if ok {
		t.Error("expected a partial older than maxAge to be rejected")
	}
}

func TestTracker_CheckExtends_RejectsNonMatchingBase(t *testing.T) {
	tr := NewTracker()
	tr.Update("completely unrelated text")

	_, ok := tr.CheckLongestExtends("the weather today is", time.Second)
	if ok {
		t.Error("expected a partial that doesn't start with base to be rejected")
	}
}

func TestTracker_CheckExtends_EmptyTrackerNeverExtends(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.CheckLongestExtends("anything", time.Hour); ok {
		t.Error("expected an empty tracker to never report an extension")
	}
	if _, ok := tr.CheckLatestExtends("anything", time.Hour); ok {
		t.Error("expected an empty tracker to never report an extension")
	}
}
