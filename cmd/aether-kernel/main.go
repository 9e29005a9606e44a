// Command aether-kernel is the operator CLI for the four kernel
// subsystems: secure boot verification, the adaptive memory allocator,
// the hierarchical cache, and the dynamic update manager, plus the
// JIT translator. Each subsystem gets its own subcommand family,
// dispatched the way node/keymgr.go dispatches "keymgr <subcommand>".
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		usage()
		return 2
	}
	sub := argv[0]
	rest := argv[1:]

	switch sub {
	case "boot":
		return cmdBootMain(rest)
	case "memctl":
		return cmdMemctlMain(rest)
	case "cachectl":
		return cmdCachectlMain(rest)
	case "update":
		return cmdUpdateMain(rest)
	case "jit":
		return cmdJitMain(rest)
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", sub)
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: aether-kernel <boot|memctl|cachectl|update|jit> <subcommand> [flags]")
}
