package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"aether.dev/kernel/jit"
)

func parseISA(s string) (jit.ISA, error) {
	switch strings.ToLower(s) {
	case "x86_64", "x86-64", "amd64":
		return jit.ISAx86_64, nil
	case "aarch64", "arm64":
		return jit.ISAAArch64, nil
	case "riscv64":
		return jit.ISARISCV64, nil
	default:
		return 0, fmt.Errorf("unknown ISA %q", s)
	}
}

func parseSourceFormat(s string) (jit.SourceFormat, error) {
	switch strings.ToLower(s) {
	case "elf":
		return jit.FormatELF, nil
	case "pe":
		return jit.FormatPE, nil
	case "macho":
		return jit.FormatMachO, nil
	case "aethernative":
		return jit.FormatAetherNative, nil
	default:
		return 0, fmt.Errorf("unknown source format %q", s)
	}
}

func parseStrategy(s string) (jit.Strategy, error) {
	switch strings.ToLower(s) {
	case "interpreter":
		return jit.StrategyInterpreter, nil
	case "basicblock":
		return jit.StrategyBasicBlock, nil
	case "trace":
		return jit.StrategyTrace, nil
	case "method":
		return jit.StrategyMethod, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", s)
	}
}

func cmdJitTranslate(argv []string) error {
	fs := flag.NewFlagSet("jit translate", flag.ExitOnError)
	codeFile := fs.String("code-file", "", "path to the raw source-ISA code section")
	format := fs.String("format", "elf", "elf|pe|macho|aethernative")
	sourceISA := fs.String("source-isa", "x86_64", "x86_64|aarch64|riscv64")
	hostISA := fs.String("host-isa", "aarch64", "x86_64|aarch64|riscv64")
	strategy := fs.String("strategy", "basicblock", "interpreter|basicblock|trace|method")
	_ = fs.Parse(argv)
	if *codeFile == "" {
		return fmt.Errorf("missing required flag: --code-file")
	}

	code, err := os.ReadFile(*codeFile)
	if err != nil {
		return fmt.Errorf("code-file: %w", err)
	}
	fmtv, err := parseSourceFormat(*format)
	if err != nil {
		return err
	}
	srcISA, err := parseISA(*sourceISA)
	if err != nil {
		return err
	}
	host, err := parseISA(*hostISA)
	if err != nil {
		return err
	}
	strat, err := parseStrategy(*strategy)
	if err != nil {
		return err
	}

	tr, err := jit.NewTranslator(jit.DefaultConfig(), host, nil)
	if err != nil {
		return err
	}
	defer tr.Close()

	entry, err := tr.Translate(context.Background(), code, fmtv, srcISA, strat)
	if err != nil {
		return err
	}
	stats := tr.Stats()
	fmt.Printf("target_addr=%#x target_size=%d source_hash=%#x hits=%d misses=%d hotspots=%d\n",
		entry.TargetAddress, entry.TargetSize, entry.SourceHash,
		stats.CacheHits, stats.CacheMisses, len(tr.Hotspots()))
	return nil
}

func cmdJitMain(argv []string) int {
	if len(argv) < 1 {
		fmt.Fprintln(os.Stderr, "usage: aether-kernel jit <translate> [flags]")
		return 2
	}
	sub, subargv := argv[0], argv[1:]

	var err error
	switch sub {
	case "translate":
		err = cmdJitTranslate(subargv)
	default:
		fmt.Fprintln(os.Stderr, "unknown jit subcommand")
		return 2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "jit", sub, "error:", err)
		return 1
	}
	return 0
}
