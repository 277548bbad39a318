package main

import "github.com/sol-namoo/monthlyGrow-sub000/services/api/cli"

func main() {
	cli.Execute()
}
