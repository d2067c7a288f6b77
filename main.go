package main

import "github.com/khanhnv2901/secscan/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
