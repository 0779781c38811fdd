package main

import "github.com/chatppt/chatppt/internal/cli"

func main() {
	cli.Execute()
}
