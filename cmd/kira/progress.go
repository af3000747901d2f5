package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// isInteractive reports whether stdout is an interactive terminal, the way
// kopia's CLI decides between redraw-in-place and line-per-update output.
func isInteractive() bool {
	fd := os.Stdout.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// progressLine renders one progress update. On an interactive terminal it
// redraws the current line with a carriage return; otherwise it prints one
// line per update, which is friendlier to logs and pipes.
func progressLine(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	if isInteractive() {
		fmt.Printf("\r\033[K%s", msg)
		return
	}

	fmt.Println(msg)
}

// progressDone finishes an interactive progress line with a trailing
// newline; a no-op for non-interactive output, which already ends each
// line.
func progressDone() {
	if isInteractive() {
		fmt.Println()
	}
}
