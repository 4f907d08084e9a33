//go:build !linux && !darwin

package logger

// isTerminal disables colors where terminal detection is not implemented.
func isTerminal(uintptr) bool {
	return false
}
