package version

import "testing"

func TestString(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	Version = "0.4.1"
	Commit = "9f3c2ab"
	BuildTime = "2026-03-02T14:30:00Z"

	if got, want := String(), "0.4.1 (9f3c2ab) built 2026-03-02T14:30:00Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := Get(); got != (Info{Version: "0.4.1", Commit: "9f3c2ab", BuildTime: "2026-03-02T14:30:00Z"}) {
		t.Errorf("Get() = %+v", got)
	}
}
