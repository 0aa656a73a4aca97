// The main package for the boxoffice-crawler executable.
package main

import (
	"github.com/JakeFAU/boxoffice-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
