// cmd/codeforge/main.go
package main

import (
	cmd "github.com/mwiater/codeforge/internal/cli"
)

var executeCmd = cmd.Execute

// main hands control to the cobra root command.
func main() {
	executeCmd()
}
