package valueobject

import (
	"fmt"
	"strings"
)

// ModelName is a parsed `base[:quantization]` model identifier. A colon is
// only permitted as the single separator between base and quantization;
// unicode is allowed in both parts.
type ModelName struct {
	Base          string
	Quantization  string
	hasQuant      bool
}

// HasQuantization reports whether a quantization suffix was present.
func (m ModelName) HasQuantization() bool { return m.hasQuant }

// String reconstructs the original wire form, unchanged, so it can be
// forwarded to the backend verbatim.
func (m ModelName) String() string {
	if !m.hasQuant {
		return m.Base
	}
	return m.Base + ":" + m.Quantization
}

// ParseModelName implements spec.md §8's boundary rules:
//
//	"m"             -> base "m", no quantization
//	"m:Q4"          -> (m, Q4)
//	"", ":q", "m:", "m:q1:q2" -> validation error
func ParseModelName(raw string) (ModelName, error) {
	if raw == "" {
		return ModelName{}, fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}

	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 1:
		return ModelName{Base: parts[0]}, nil
	case 2:
		base, quant := parts[0], parts[1]
		if base == "" || quant == "" {
			return ModelName{}, fmt.Errorf("%w: %q", ErrInvalidModelName, raw)
		}
		return ModelName{Base: base, Quantization: quant, hasQuant: true}, nil
	default:
		return ModelName{}, fmt.Errorf("%w: %q has more than one colon", ErrInvalidModelName, raw)
	}
}
