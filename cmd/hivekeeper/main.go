package main

import "github.com/jmcleod/hivekeeper/cmd/hivekeeper/cmd"

func main() {
	cmd.Execute()
}
