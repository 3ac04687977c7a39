package main

import "github.com/example/negotiation-scheduler/internal/cli"

func main() {
	cli.Execute()
}
