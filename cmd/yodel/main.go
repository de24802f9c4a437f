package main

import "github.com/yodel/yodel-go/internal/cli"

func main() {
	cli.Execute()
}
