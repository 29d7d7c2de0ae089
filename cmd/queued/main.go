package main

import "github.com/jrjohn/arcana-queue/internal/cli"

func main() {
	cli.Execute()
}
