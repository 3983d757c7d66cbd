package metering

import "github.com/voxsuite/backend/internal/domain/shared"

// ResourceKind represents the type of resource being metered
type ResourceKind string

const (
	// ResourceTranscriptionMinutes tracks audio transcription in minutes
	ResourceTranscriptionMinutes ResourceKind = "TRANSCRIPTION_MINUTES"

	// ResourceTranslationWords tracks text translation in words
	ResourceTranslationWords ResourceKind = "TRANSLATION_WORDS"

	// ResourceTTSMinutes tracks text-to-speech synthesis in minutes
	ResourceTTSMinutes ResourceKind = "TTS_MINUTES"

	// ResourceAICredits tracks generic AI feature credits
	ResourceAICredits ResourceKind = "AI_CREDITS"
)

// AllResourceKinds lists every metered resource in canonical order
var AllResourceKinds = []ResourceKind{
	ResourceTranscriptionMinutes,
	ResourceTranslationWords,
	ResourceTTSMinutes,
	ResourceAICredits,
}

// resourceAliases maps accepted wire names to resource kinds. Unknown names
// are rejected before any counter is consulted.
var resourceAliases = map[string]ResourceKind{
	"TRANSCRIPTION_MINUTES": ResourceTranscriptionMinutes,
	"transcription_minutes": ResourceTranscriptionMinutes,
	"transcription":         ResourceTranscriptionMinutes,
	"TRANSLATION_WORDS":     ResourceTranslationWords,
	"translation_words":     ResourceTranslationWords,
	"translation":           ResourceTranslationWords,
	"TTS_MINUTES":           ResourceTTSMinutes,
	"tts_minutes":           ResourceTTSMinutes,
	"tts":                   ResourceTTSMinutes,
	"AI_CREDITS":            ResourceAICredits,
	"ai_credits":            ResourceAICredits,
	"ai":                    ResourceAICredits,
}

// ParseResourceKind converts a wire name into a ResourceKind.
// Returns ErrInvalidResource for any name outside the closed set.
func ParseResourceKind(name string) (ResourceKind, error) {
	if kind, ok := resourceAliases[name]; ok {
		return kind, nil
	}
	return "", shared.ErrInvalidResource
}

// String returns the string representation of ResourceKind
func (r ResourceKind) String() string {
	return string(r)
}

// IsValid returns true if the resource kind is valid
func (r ResourceKind) IsValid() bool {
	switch r {
	case ResourceTranscriptionMinutes,
		ResourceTranslationWords,
		ResourceTTSMinutes,
		ResourceAICredits:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the resource
func (r ResourceKind) DisplayName() string {
	switch r {
	case ResourceTranscriptionMinutes:
		return "Transcription Minutes"
	case ResourceTranslationWords:
		return "Translation Words"
	case ResourceTTSMinutes:
		return "Text-to-Speech Minutes"
	case ResourceAICredits:
		return "AI Credits"
	default:
		return string(r)
	}
}

// Unit returns the measurement unit for this resource
func (r ResourceKind) Unit() string {
	switch r {
	case ResourceTranscriptionMinutes, ResourceTTSMinutes:
		return "minutes"
	case ResourceTranslationWords:
		return "words"
	case ResourceAICredits:
		return "credits"
	default:
		return "units"
	}
}

// UsageCounters holds the four per-resource counters as one value.
// It is used for current-period usage, lifetime totals, plan limits and
// pay-as-you-go balances alike.
type UsageCounters struct {
	TranscriptionMinutes int64 `json:"transcription_minutes"`
	TranslationWords     int64 `json:"translation_words"`
	TTSMinutes           int64 `json:"tts_minutes"`
	AICredits            int64 `json:"ai_credits"`
}

// Get returns the counter for the given resource kind
func (c UsageCounters) Get(kind ResourceKind) int64 {
	switch kind {
	case ResourceTranscriptionMinutes:
		return c.TranscriptionMinutes
	case ResourceTranslationWords:
		return c.TranslationWords
	case ResourceTTSMinutes:
		return c.TTSMinutes
	case ResourceAICredits:
		return c.AICredits
	}
	return 0
}

// Set replaces the counter for the given resource kind
func (c *UsageCounters) Set(kind ResourceKind, value int64) {
	switch kind {
	case ResourceTranscriptionMinutes:
		c.TranscriptionMinutes = value
	case ResourceTranslationWords:
		c.TranslationWords = value
	case ResourceTTSMinutes:
		c.TTSMinutes = value
	case ResourceAICredits:
		c.AICredits = value
	}
}

// Add adds delta (which may be negative) to the counter for the given kind
func (c *UsageCounters) Add(kind ResourceKind, delta int64) {
	c.Set(kind, c.Get(kind)+delta)
}

// Total returns the sum of all four counters
func (c UsageCounters) Total() int64 {
	return c.TranscriptionMinutes + c.TranslationWords + c.TTSMinutes + c.AICredits
}

// IsZero returns true if every counter is zero
func (c UsageCounters) IsZero() bool {
	return c.TranscriptionMinutes == 0 && c.TranslationWords == 0 &&
		c.TTSMinutes == 0 && c.AICredits == 0
}

// AddAll adds every counter of other into c
func (c *UsageCounters) AddAll(other UsageCounters) {
	c.TranscriptionMinutes += other.TranscriptionMinutes
	c.TranslationWords += other.TranslationWords
	c.TTSMinutes += other.TTSMinutes
	c.AICredits += other.AICredits
}
