package main

import "github.com/mselser95/venuecoord/cmd"

func main() {
	cmd.Execute()
}
