package main

import "github.com/skywave-uplink/habuplink/cmd"

func main() {
	cmd.Execute()
}
