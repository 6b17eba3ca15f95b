package main

import "github.com/andresmejia3/tryon/cmd"

func main() {
	cmd.Execute()
}
