package main

import "github.com/Alijeyrad/carebook_backend/cmd"

func main() {
	cmd.Execute()
}
