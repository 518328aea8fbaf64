// Package security checks free-text input and keeps credentials out of errors and logs
package security

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInputTooLarge     = errors.New("input exceeds maximum size")
	ErrNullByteDetected  = errors.New("null byte detected in input")
	ErrControlCharacter  = errors.New("control character in input")
	ErrInvalidUTF8       = errors.New("input is not valid UTF-8")
	ErrRepetitiveContent = errors.New("excessive repetition detected")
)

// Field limits for medication text
const (
	MaxNameLength   = 200
	MaxDosageLength = 100
	MaxNotesLength  = 2000
)

type InputValidator struct {
	// MaxSize is in runes, 0 disables the check
	MaxSize int
	// AllowNewlines accepts \n, \r and \t, used for notes
	AllowNewlines bool
	// MaxRepetition caps a run of the same rune, 0 disables the check
	MaxRepetition int
}

func NewInputValidator(maxSize int) *InputValidator {
	return &InputValidator{
		MaxSize:       maxSize,
		MaxRepetition: 50,
	}
}

func (v *InputValidator) Validate(input string) error {
	if !utf8.ValidString(input) {
		return ErrInvalidUTF8
	}
	if v.MaxSize > 0 && utf8.RuneCountInString(input) > v.MaxSize {
		return ErrInputTooLarge
	}

	for _, r := range input {
		if r == 0 {
			return ErrNullByteDetected
		}
		if v.AllowNewlines && (r == '\n' || r == '\r' || r == '\t') {
			continue
		}
		if unicode.IsControl(r) {
			return ErrControlCharacter
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}

	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	if len(input) <= maxLen {
		return false
	}

	runes := []rune(input)
	consecutiveCount := 1

	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			consecutiveCount++
			if consecutiveCount > maxLen {
				return true
			}
		} else {
			consecutiveCount = 1
		}
	}

	return false
}

// ValidateField checks one named text field against max runes. Notes may span lines.
func ValidateField(field, value string, max int) error {
	v := NewInputValidator(max)
	v.AllowNewlines = field == "notes"
	if err := v.Validate(value); err != nil {
		if errors.Is(err, ErrInputTooLarge) {
			return fmt.Errorf("%s must be at most %d characters", field, max)
		}
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}
