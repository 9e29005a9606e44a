package main

import (
	"flag"
	"fmt"
	"os"

	"aether.dev/kernel/memory"
)

func cmdMemctlAlloc(argv []string) error {
	fs := flag.NewFlagSet("memctl alloc", flag.ExitOnError)
	size := fs.Int("size", 4096, "allocation size in bytes")
	hugePage := fs.Bool("huge-page", false, "request huge-page backing")
	compress := fs.Bool("allow-compression", false, "allow this block to be compressed on demotion")
	_ = fs.Parse(argv)
	if *size <= 0 {
		return fmt.Errorf("--size must be positive")
	}

	a, err := memory.NewAllocator()
	if err != nil {
		return err
	}
	addr, err := a.Allocate(*size, memory.PlacementOptions{
		Prediction:       memory.MediumTerm,
		AllowCompression: *compress,
		HugePage:         *hugePage,
	})
	if err != nil {
		return err
	}
	fmt.Printf("addr=%#x\n", uint64(addr))
	return nil
}

func cmdMemctlStats(argv []string) error {
	fs := flag.NewFlagSet("memctl stats", flag.ExitOnError)
	_ = fs.Parse(argv)

	a, err := memory.NewAllocator()
	if err != nil {
		return err
	}
	stats := a.GetMemoryStats()
	fmt.Printf("total=%d used=%d free=%d blocks=%d allocated=%d rebalances=%d compression=%v\n",
		stats.TotalBytes, stats.UsedBytes, stats.FreeBytes, stats.BlockCount,
		stats.AllocatedCount, stats.RebalanceCount, stats.CompressionOn)
	return nil
}

func cmdMemctlMain(argv []string) int {
	if len(argv) < 1 {
		fmt.Fprintln(os.Stderr, "usage: aether-kernel memctl <alloc|stats> [flags]")
		return 2
	}
	sub, subargv := argv[0], argv[1:]

	var err error
	switch sub {
	case "alloc":
		err = cmdMemctlAlloc(subargv)
	case "stats":
		err = cmdMemctlStats(subargv)
	default:
		fmt.Fprintln(os.Stderr, "unknown memctl subcommand")
		return 2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "memctl", sub, "error:", err)
		return 1
	}
	return 0
}
