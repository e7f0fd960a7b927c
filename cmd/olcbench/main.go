/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/ssargent/olctree/cmd/olcbench/cmd"

func main() {
	cmd.Execute()
}
