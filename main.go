package main

import "github.com/yousef-elgarch1/secureflow/cmd"

func main() {
	cmd.Execute()
}
