package main

import "github.com/fakeyudi/replay/cmd"

func main() {
	cmd.Execute()
}
