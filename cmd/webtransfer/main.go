package main

import "github.com/CH563/web-transfer/internal/command"

func main() {
	command.Execute()
}
