package main

import "github.com/dinh2350/lunar-sub002/cmd"

func main() {
	cmd.Execute()
}
