package main

import "github.com/user/secsync/cmd"

func main() {
	cmd.Execute()
}
