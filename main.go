package main

import "helixar/cmd"

func main() {
	cmd.Execute()
}
