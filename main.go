package main

import "github.com/theirongolddev/tokpulse/cmd"

func main() {
	cmd.Execute()
}
