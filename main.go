// Package main provides the entry point for issim.
// issim is a decode-once RV32 instruction-set simulator built on Akita.
//
// For the full CLI, use: go run ./cmd/issim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("issim - RV32 instruction-set simulator")
	fmt.Println("Built on Akita simulation framework")
	fmt.Println("")
	fmt.Println("Usage: issim [options] <program>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config    Path to timing configuration JSON file")
	fmt.Println("  -isa       ISA to execute (rv32imc, rv32i)")
	fmt.Println("  -fast      Fast dispatch without resource or cache timing")
	fmt.Println("  -dump      Dump the decode tree of the selected ISA")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/issim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/issim' instead.")
	}
}
