package main

import "github.com/suPer8Hu/dbrag/cmd/dbrag/cli"

func main() {
	cli.Execute()
}
