package prompt

// MissingAction specifies how Render handles a placeholder without a value.
type MissingAction int

const (
	// MissingError fails the render with *UndefinedVariableError.
	// This is the default.
	MissingError MissingAction = iota

	// MissingKeep leaves the placeholder in the output as written.
	MissingKeep

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty
)

// Option configures a Template.
type Option func(*Template)

// WithMissingAction sets how missing variables are handled.
func WithMissingAction(action MissingAction) Option {
	return func(t *Template) {
		t.missing = action
	}
}
