package main

import "github.com/sol-namoo/monthlyGrow-sub000/services/tracker/cli"

func main() {
	cli.Execute()
}
