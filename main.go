/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package main

import "github.com/mautops/branch-ops/cmd"

func main() {
	cmd.Execute()
}
