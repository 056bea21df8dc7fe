// Package language resolves the language tag attached to an ingested
// conversation, used to pick the summarisation prompt and to decide whether
// summarisation should prefer the external reasoner.
package language

import (
	"os"
	"unicode"

	"golang.org/x/text/language"
)

// OverrideEnvVar is the environment variable consulted when a conversation
// carries no explicit language hint.
const OverrideEnvVar = "CONTEXT_ORCHESTRATOR_LANG_OVERRIDE"

// minScriptRatio: a non-Latin script must make up more than 1/minScriptRatio
// of the classified runes before the heuristic commits to it over English.
const minScriptRatio = 4

// Detect resolves a language tag for content using the override chain:
// an explicit hint (the caller-supplied field or a "language" metadata
// entry) first, then the environment override, then a script-based
// heuristic over content, then the configured default.
func Detect(hint string, metadata map[string]string, content string, supportedLocal []string, fallbackDefault string) string {
	if hint != "" {
		return canonicalize(hint)
	}
	if v := metadata["language"]; v != "" {
		return canonicalize(v)
	}
	if v := os.Getenv(OverrideEnvVar); v != "" {
		return canonicalize(v)
	}
	if tag := heuristic(content); tag != "" {
		return tag
	}
	if fallbackDefault != "" {
		return canonicalize(fallbackDefault)
	}
	if len(supportedLocal) > 0 {
		return canonicalize(supportedLocal[0])
	}
	return "en"
}

// IsSupported reports whether tag (already canonicalized by Detect) is in
// the configured supported-local set.
func IsSupported(tag string, supportedLocal []string) bool {
	for _, s := range supportedLocal {
		if canonicalize(s) == tag {
			return true
		}
	}
	return false
}

// canonicalize normalises a BCP-47-ish tag to its base language subtag
// ("en-US" -> "en"), falling back to the raw value if it doesn't parse as a
// language tag.
func canonicalize(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	base, _ := t.Base()
	return base.String()
}

// heuristic classifies content by Unicode script when no explicit or
// environment-provided hint is available. No language-identification model
// ships in this build, so detection is a coarse script majority vote rather
// than a trained classifier; it only distinguishes scripts this project is
// likely to see, not every ISO language.
func heuristic(content string) string {
	var cjk, hangul, kana, cyrillic, arabic, hebrew, latin, counted int
	for _, r := range content {
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Han, r):
			cjk++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case unicode.IsLetter(r):
			latin++
		default:
			continue
		}
		counted++
		if counted > 4000 {
			break
		}
	}
	if counted == 0 {
		return ""
	}

	switch {
	case kana > 0:
		return "ja"
	case cjk*minScriptRatio > counted:
		return "zh"
	case hangul*minScriptRatio > counted:
		return "ko"
	case cyrillic*minScriptRatio > counted:
		return "ru"
	case arabic*minScriptRatio > counted:
		return "ar"
	case hebrew*minScriptRatio > counted:
		return "he"
	case latin > 0:
		return "en"
	default:
		return ""
	}
}
