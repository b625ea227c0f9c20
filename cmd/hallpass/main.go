package main

import "github.com/ppiankov/hallpass/internal/cli"

func main() {
	cli.Execute()
}
