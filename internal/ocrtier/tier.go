// Package ocrtier defines the OCR escalation tier ladder and the pure
// mapping between tier names and engine-provider identifiers. The
// adapters themselves are bound to provider identifiers by
// ocrengine.Registry, built once at service startup; no package-level
// singletons are used.
package ocrtier

import "fmt"

// Tier identifies one rung of the escalation ladder.
type Tier string

const (
	Tesseract   Tier = "tesseract"
	EasyOCR     Tier = "easyocr"
	PaddleOCR   Tier = "paddleocr"
	RapidOCR    Tier = "rapidocr"
	AppleVision Tier = "apple_vision"
	LLMLocal    Tier = "llm_local"
	LLMCloud    Tier = "llm_cloud"
)

// DefaultOrder is the full escalation order. FilterOrder returns it
// unchanged when no enabled-tier list is configured.
var DefaultOrder = []Tier{
	Tesseract,
	EasyOCR,
	PaddleOCR,
	RapidOCR,
	AppleVision,
	LLMLocal,
	LLMCloud,
}

// providerByTier maps each tier to the engine-provider identifier used
// when invoking the adapter registry.
var providerByTier = map[Tier]string{
	Tesseract:   "tesseract",
	EasyOCR:     "easyocr",
	PaddleOCR:   "paddleocr",
	RapidOCR:    "rapidocr",
	AppleVision: "apple_vision",
	LLMLocal:    "llm_proxy_vision",
	LLMCloud:    "llm_proxy_cloud",
}

var tierByProvider = func() map[string]Tier {
	m := make(map[string]Tier, len(providerByTier))
	for t, p := range providerByTier {
		m[p] = t
	}
	return m
}()

// ToProvider returns the engine-provider identifier bound to a tier.
func ToProvider(t Tier) (string, error) {
	p, ok := providerByTier[t]
	if !ok {
		return "", fmt.Errorf("ocrtier: unknown tier %q", t)
	}
	return p, nil
}

// FromProvider returns the tier bound to an engine-provider identifier.
func FromProvider(provider string) (Tier, error) {
	t, ok := tierByProvider[provider]
	if !ok {
		return "", fmt.Errorf("ocrtier: unknown provider %q", provider)
	}
	return t, nil
}

// Valid reports whether name is a recognized tier.
func Valid(name string) bool {
	_, ok := providerByTier[Tier(name)]
	return ok
}

// FilterOrder returns DefaultOrder restricted to the tiers named in
// enabled, in DefaultOrder's relative order; the order of enabled does
// not matter. Unknown names in enabled are ignored.
func FilterOrder(enabled []string) []Tier {
	if len(enabled) == 0 {
		return DefaultOrder
	}
	allow := make(map[Tier]bool, len(enabled))
	for _, name := range enabled {
		allow[Tier(name)] = true
	}
	out := make([]Tier, 0, len(DefaultOrder))
	for _, t := range DefaultOrder {
		if allow[t] {
			out = append(out, t)
		}
	}
	return out
}
