// Package prompt wraps promptui for the interactive parts of the CLI.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// Confirm asks a yes/no question. An empty answer selects defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	p := promptui.Prompt{
		Label:    fmt.Sprintf("%s [%s]", label, hint),
		Validate: validateYesNo,
	}
	answer, err := p.Run()
	if err != nil {
		return false, wrapError(err)
	}
	return parseYes(answer, defaultYes), nil
}

func validateYesNo(answer string) error {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes", "n", "no":
		return nil
	default:
		return errors.New("answer y or n")
	}
}

// parseYes interprets a confirmation answer.
func parseYes(answer string, defaultYes bool) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return defaultYes
	case "y", "yes":
		return true
	default:
		return false
	}
}
