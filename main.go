package main

import "github.com/ValentinKolb/syslink/cmd"

func main() {
	cmd.Execute()
}
