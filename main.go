// The main package for the supacrawl executable.
package main

import (
	"github.com/supacrawl/supacrawl/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
