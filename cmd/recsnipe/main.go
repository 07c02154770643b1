package main

import "github.com/example/recgov-sniper/cmd"

func main() {
	cmd.Execute()
}
