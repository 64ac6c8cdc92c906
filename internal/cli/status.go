package codeforge

import (
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
)

type statusFunc func(format string, args ...any)

var (
	successText = color.New(color.FgGreen, color.Bold).SprintFunc()
	failedText  = color.New(color.FgRed, color.Bold).SprintFunc()
	mutedText   = color.New(color.Faint).SprintFunc()
)

// newStatus returns a printer that writes to the log and to out.
func newStatus(out io.Writer) statusFunc {
	return func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Print(msg)
		fmt.Fprintln(out, msg)
	}
}
