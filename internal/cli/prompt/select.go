package prompt

import (
	"github.com/manifoldco/promptui"
)

// SelectOption is one entry of a Select prompt.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// Select asks the user to pick one option and returns its Value.
func Select(label string, options []SelectOption) (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ \"✔\" | green }} {{ .Label | bold }}",
		Details:  `{{ with .Description }}{{ . | faint }}{{ end }}`,
	}

	s := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates,
		Size:      len(options),
	}
	i, _, err := s.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}

// SelectValues is Select over plain values.
func SelectValues(label string, values ...string) (string, error) {
	options := make([]SelectOption, len(values))
	for i, v := range values {
		options[i] = SelectOption{Label: v, Value: v}
	}
	return Select(label, options)
}
