package main

import "github.com/goosewin/cellfill/cmd"

func main() {
	cmd.Execute()
}
