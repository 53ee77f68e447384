package logger

import (
	"path/filepath"
	"testing"
)

func TestLevelFromStringRoundTrip(t *testing.T) {
	cases := map[string]Level{
		"trace":    LevelTrace,
		"DEBUG":    LevelDebug,
		"Info":     LevelInfo,
		"warn":     LevelWarn,
		"warning":  LevelWarn,
		"error":    LevelError,
		"critical": LevelCritical,
		"off":      LevelOff,
	}
	for s, want := range cases {
		got, ok := LevelFromString(s)
		if !ok || got != want {
			t.Fatalf("LevelFromString(%q) = %v, %v; want %v, true", s, got, ok, want)
		}
	}

	if _, ok := LevelFromString("bogus"); ok {
		t.Fatal("expected an unrecognized level name to report false")
	}
}

func TestSetLogLevelUnknownTagIgnored(t *testing.T) {
	SetLogLevel("NOPE", "debug")
	if Get("NOPE") != nil {
		t.Fatal("expected no logger to be registered under an unknown tag")
	}
}

func TestSetLogLevelsAppliesToEverySubsystem(t *testing.T) {
	SetLogLevels("error")
	for _, tag := range SupportedSubsystems() {
		if lvl := Get(tag).Level(); lvl != LevelError {
			t.Fatalf("subsystem %s: level = %v, want %v", tag, lvl, LevelError)
		}
	}
	SetLogLevels("info")
}

func TestSupportedSubsystemsSorted(t *testing.T) {
	tags := SupportedSubsystems()
	for i := 1; i < len(tags); i++ {
		if tags[i-1] >= tags[i] {
			t.Fatalf("expected sorted tags, got %v", tags)
		}
	}
}

func TestPickNoun(t *testing.T) {
	if got := PickNoun(1, "block", "blocks"); got != "block" {
		t.Fatalf("PickNoun(1, ...) = %q, want %q", got, "block")
	}
	if got := PickNoun(2, "block", "blocks"); got != "blocks" {
		t.Fatalf("PickNoun(2, ...) = %q, want %q", got, "blocks")
	}
}

func TestInitLogRotatorCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "nested", "ncnode.log")

	if err := InitLogRotator(logFile); err != nil {
		t.Fatalf("InitLogRotator: %v", err)
	}

	Get(TagNode).Infof("logger rotator smoke test")
}
