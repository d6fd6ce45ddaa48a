// The main package for the reviewpulse executable.
package main

import "github.com/reviewpulse/reviewpulse/cmd"

func main() {
	cmd.Execute()
}
