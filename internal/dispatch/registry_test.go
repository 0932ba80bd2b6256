package dispatch

import "testing"

func TestRegistryCancelLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Register("s1")

	if r.IsCancelled("s1") {
		t.Error("fresh session reported cancelled")
	}
	if !r.Cancel("s1") {
		t.Fatal("Cancel() = false for active session")
	}
	if !r.IsCancelled("s1") {
		t.Error("cancelled session not reported cancelled")
	}

	// Cancellation is monotonic and idempotent.
	if !r.Cancel("s1") {
		t.Error("second Cancel() = false, want true")
	}
	if !r.IsCancelled("s1") {
		t.Error("cancellation flag cleared by repeat cancel")
	}
}

func TestRegistryCancelUnknownSession(t *testing.T) {
	r := NewRegistry()
	if r.Cancel("nope") {
		t.Error("Cancel() = true for unknown session")
	}
	if r.IsCancelled("nope") {
		t.Error("unknown session reported cancelled")
	}
}

func TestRegistryCancelSurvivesUnrelatedUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("s1")
	r.Register("s2")
	r.Cancel("s1")

	r.Unregister("s2")

	if !r.IsCancelled("s1") {
		t.Error("cancellation lost when an unrelated session was unregistered")
	}
}

func TestRegistryUnregisterClearsFlags(t *testing.T) {
	r := NewRegistry()
	r.Register("s1")
	r.Register("s2")
	r.Cancel("s1")

	r.Unregister("s1")

	if r.Active("s1") {
		t.Error("unregistered session still active")
	}
	if r.IsCancelled("s1") {
		t.Error("unregistered session kept its cancellation flag")
	}
	// Unrelated sessions are untouched.
	if !r.Active("s2") {
		t.Error("unrelated session lost on unregister")
	}
}
