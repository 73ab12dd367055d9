package main

import "github.com/gnod-dev/gnodlogger/internal/cmd"

func main() {
	cmd.Execute()
}
