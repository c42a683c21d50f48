package main

import "github.com/gac1u21/harcapture/cmd"

func main() {
	cmd.Execute()
}
