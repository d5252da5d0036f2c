package main

import "github.com/brensch/solarfetch/cmd"

func main() {
	cmd.Execute()
}
