package demux

import "github.com/charmbracelet/x/ansi"

// StripANSI removes ANSI escape sequences (colors, cursor movement) from s.
func StripANSI(s string) string {
	return ansi.Strip(s)
}
