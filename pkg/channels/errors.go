package channels

import "fmt"

// TranslationError reports a native event missing a field the translator
// needs. The event is dropped.
type TranslationError struct {
	Platform string
	Field    string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("%s event is missing %s", e.Platform, e.Field)
}
