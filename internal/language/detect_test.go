package language

import (
	"os"
	"testing"
)

func TestDetect_ExplicitHintWins(t *testing.T) {
	got := Detect("fr", map[string]string{"language": "de"}, "hello there", []string{"en"}, "en")
	if got != "fr" {
		t.Fatalf("got %q, want fr", got)
	}
}

func TestDetect_MetadataBeatsEnvAndHeuristic(t *testing.T) {
	t.Setenv(OverrideEnvVar, "de")
	got := Detect("", map[string]string{"language": "es"}, "hola", []string{"en"}, "en")
	if got != "es" {
		t.Fatalf("got %q, want es", got)
	}
}

func TestDetect_EnvOverrideBeatsHeuristic(t *testing.T) {
	t.Setenv(OverrideEnvVar, "de")
	got := Detect("", nil, "this is plainly english content", []string{"en"}, "en")
	if got != "de" {
		t.Fatalf("got %q, want de", got)
	}
}

func TestDetect_HeuristicDetectsScript(t *testing.T) {
	os.Unsetenv(OverrideEnvVar)
	got := Detect("", nil, "这是一段中文内容,用来测试语言检测的启发式算法", []string{"en"}, "en")
	if got != "zh" {
		t.Fatalf("got %q, want zh", got)
	}
}

func TestDetect_FallsBackToDefault(t *testing.T) {
	os.Unsetenv(OverrideEnvVar)
	got := Detect("", nil, "", []string{"en"}, "en")
	if got != "en" {
		t.Fatalf("got %q, want en", got)
	}
}

func TestDetect_CanonicalizesRegionalTag(t *testing.T) {
	got := Detect("en-US", nil, "", nil, "")
	if got != "en" {
		t.Fatalf("got %q, want en", got)
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported("en", []string{"en", "fr"}) {
		t.Fatal("expected en to be supported")
	}
	if IsSupported("ja", []string{"en", "fr"}) {
		t.Fatal("expected ja to be unsupported")
	}
}
