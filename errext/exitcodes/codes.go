// Package exitcodes contains the process exit codes of the k6browser CLI.
package exitcodes

// ExitCode is just a type representing a process exit code.
type ExitCode uint8

// list of exit codes used by k6browser
const (
	GenericEngine      ExitCode = 103
	InvalidConfig      ExitCode = 104
	ExternalAbort      ExitCode = 105
	BrowserUnreachable ExitCode = 106
	NavigationFailed   ExitCode = 107
	AssertionFailed    ExitCode = 108
	GenericTimeout     ExitCode = 109
)
