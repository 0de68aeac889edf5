package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Validation limits
const (
	MaxFieldLength    = 256       // characters in component, variant and action
	MaxMetadataKeys   = 64        // top-level metadata keys
	MaxMetadataBytes  = 16 * 1024 // encoded metadata size
	MaxRequestBodyLen = 64 * 1024 // ingest request body
)

var (
	// ErrComponentEmpty is returned when component is missing
	ErrComponentEmpty = errors.New("component is required")

	// ErrVariantEmpty is returned when variant is missing
	ErrVariantEmpty = errors.New("variant is required")

	// ErrActionEmpty is returned when action is missing
	ErrActionEmpty = errors.New("action is required")

	// ErrFieldTooLong is returned when component, variant or action exceeds MaxFieldLength
	ErrFieldTooLong = fmt.Errorf("field too long (max %d chars)", MaxFieldLength)

	// ErrTooManyMetadataKeys is returned when metadata has too many top-level keys
	ErrTooManyMetadataKeys = fmt.Errorf("too many metadata keys (max %d)", MaxMetadataKeys)

	// ErrMetadataTooLarge is returned when encoded metadata exceeds MaxMetadataBytes
	ErrMetadataTooLarge = fmt.Errorf("metadata too large (max %d bytes)", MaxMetadataBytes)
)

// Validate checks an ingest payload against the required fields and size limits.
func Validate(in Input) error {
	fields := []struct {
		name  string
		value string
		empty error
	}{
		{"component", in.Component, ErrComponentEmpty},
		{"variant", in.Variant, ErrVariantEmpty},
		{"action", in.Action, ErrActionEmpty},
	}
	for _, f := range fields {
		if f.value == "" {
			return f.empty
		}
		if n := utf8.RuneCountInString(f.value); n > MaxFieldLength {
			return fmt.Errorf("%w: %s has %d chars", ErrFieldTooLong, f.name, n)
		}
	}

	if in.Metadata == nil {
		return nil
	}
	if len(in.Metadata) > MaxMetadataKeys {
		return fmt.Errorf("%w: got %d", ErrTooManyMetadataKeys, len(in.Metadata))
	}
	encoded, err := json.Marshal(in.Metadata)
	if err != nil {
		return fmt.Errorf("metadata is not encodable: %w", err)
	}
	if len(encoded) > MaxMetadataBytes {
		return fmt.Errorf("%w: got %d", ErrMetadataTooLarge, len(encoded))
	}
	return nil
}
