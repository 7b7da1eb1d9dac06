package main

import "tacticaldesk/cmd/cli"

func main() {
	cli.Execute()
}
