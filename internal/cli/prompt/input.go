package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/marmos91/zerocopy/internal/bytesize"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted returns true if the error indicates the user aborted (Ctrl+C).
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

// wrapError converts promptui interrupt/abort errors to ErrAborted for consistent handling.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Input prompts for text input.
func Input(label string, defaultValue string) (string, error) {
	return InputWithValidation(label, defaultValue, nil)
}

// InputRequired prompts for a non-empty text input.
func InputRequired(label string) (string, error) {
	return InputWithValidation(label, "", func(input string) error {
		if strings.TrimSpace(input) == "" {
			return fmt.Errorf("value is required")
		}
		return nil
	})
}

// InputOptional prompts for text input that may be left empty.
func InputOptional(label string) (string, error) {
	return Input(label, "")
}

// InputWithValidation prompts for text input with custom validation.
func InputWithValidation(label, defaultValue string, validate func(string) error) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Default:  defaultValue,
		Validate: validate,
	}

	result, err := prompt.Run()
	return result, wrapError(err)
}

// InputUint prompts for an unsigned integer in [min, max].
func InputUint(label string, defaultValue, min, max uint64) (uint64, error) {
	result, err := InputWithValidation(label, strconv.FormatUint(defaultValue, 10), func(input string) error {
		v, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return fmt.Errorf("must be a valid unsigned integer")
		}
		if v < min || v > max {
			return fmt.Errorf("must be between %d and %d", min, max)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	v, _ := strconv.ParseUint(result, 10, 64) // Already validated
	return v, nil
}

// InputSize prompts for a byte size such as "64KiB" or "1MB".
func InputSize(label string, defaultValue bytesize.ByteSize) (bytesize.ByteSize, error) {
	result, err := InputWithValidation(label, defaultValue.String(), func(input string) error {
		v, err := bytesize.Parse(input)
		if err != nil {
			return err
		}
		if v == 0 {
			return fmt.Errorf("must be greater than zero")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return bytesize.Parse(result)
}

// Secret prompts for a masked value such as a secret key.
func Secret(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	result, err := p.Run()
	return result, wrapError(err)
}
