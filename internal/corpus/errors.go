package corpus

import "fmt"

// SchemaError reports a row that violates the two-column dialogue/note
// contract. Schema violations are fatal: silently dropping rows would bias
// the training corpus undetectably.
type SchemaError struct {
	Path    string
	Row     int // 1-based data row, 0 for header problems
	Message string
}

func (e *SchemaError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("schema error in %s row %d: %s", e.Path, e.Row, e.Message)
	}
	return fmt.Sprintf("schema error in %s: %s", e.Path, e.Message)
}
