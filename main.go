package main

import "github.com/eagleaccess/eagle/cmd"

func main() {
	cmd.Execute()
}
