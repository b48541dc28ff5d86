package main

import "github.com/appsworld/machoscan/cmd/machoscan/cmd"

func main() {
	cmd.Execute()
}
