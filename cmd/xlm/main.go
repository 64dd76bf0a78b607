package main

import "github.com/oshokin/xlm/cmd/xlm/cmd"

func main() {
	cmd.Execute()
}
