package main

import "github.com/bracken-sec/conmon/internal/cli"

func main() {
	cli.Execute()
}
