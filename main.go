package main

import "nodegate/cmd"

func main() {
	cmd.Execute()
}
