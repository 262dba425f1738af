package pathguard

import "fmt"

// Reason identifies which gate rejected a path.
type Reason string

const (
	ReasonEmptyPath           Reason = "empty_path"
	ReasonTraversal           Reason = "path_traversal"
	ReasonExtensionNotAllowed Reason = "extension_not_allowed"
	ReasonNotFound            Reason = "not_found"
	ReasonInaccessible        Reason = "inaccessible"
	ReasonNotAFile            Reason = "not_a_file"
	ReasonNotADirectory       Reason = "not_a_directory"
)

// Field names used in Error.
const (
	FieldExecutable = "executable"
	FieldWorkingDir = "working directory"
)

// Error is returned by the Check* functions. It carries enough structure for a
// caller to render a specific message without parsing strings.
type Error struct {
	Field  string
	Path   string
	Reason Reason
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %q %s", e.Field, e.Path, e.Reason.describe())
}

func (r Reason) describe() string {
	switch r {
	case ReasonEmptyPath:
		return "is empty"
	case ReasonTraversal:
		return "contains a parent-directory traversal segment"
	case ReasonExtensionNotAllowed:
		return "does not have an allowed executable extension"
	case ReasonNotFound:
		return "does not exist"
	case ReasonInaccessible:
		return "cannot be accessed"
	case ReasonNotAFile:
		return "is not a regular file"
	case ReasonNotADirectory:
		return "is not a directory"
	default:
		return "is invalid"
	}
}

func newError(field, path string, r Reason) *Error {
	return &Error{Field: field, Path: path, Reason: r}
}
