// The main package for the remotehive executable.
package main

import (
	"github.com/JakeFAU/remotehive-autoscraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
