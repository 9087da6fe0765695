package main

import (
	"github.com/b2bflash/crawler/internal/cli"
)

func main() {
	cli.Execute()
}
