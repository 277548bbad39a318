package main

import "github.com/sol-namoo/monthlyGrow-sub000/services/scheduler/cli"

func main() {
	cli.Execute()
}
