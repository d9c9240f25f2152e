package report

import "fmt"

// redacted stands in for user speech when a report must not carry it.
func redacted(runes int) string {
	return fmt.Sprintf("[redacted %d chars]", runes)
}
