package main

import (
	"flag"
	"fmt"
	"os"

	"aether.dev/kernel/cache"
)

// demoCache is process-lifetime only: each invocation of aether-kernel
// starts from an empty cache, same as memctl and boot start from empty
// state. Each invocation runs exactly one subcommand, so a "get" never
// sees what an earlier "put" stored: across separate process
// invocations there is nothing to get.
var demoCache = cache.New[string, []byte]()

func cmdCachectlPut(argv []string) error {
	fs := flag.NewFlagSet("cachectl put", flag.ExitOnError)
	key := fs.String("key", "", "cache key")
	value := fs.String("value", "", "cache value")
	_ = fs.Parse(argv)
	if *key == "" {
		return fmt.Errorf("missing required flag: --key")
	}
	v := []byte(*value)
	demoCache.Put(*key, v, len(v))
	fmt.Println("OK")
	return nil
}

func cmdCachectlGet(argv []string) error {
	fs := flag.NewFlagSet("cachectl get", flag.ExitOnError)
	key := fs.String("key", "", "cache key")
	_ = fs.Parse(argv)
	if *key == "" {
		return fmt.Errorf("missing required flag: --key")
	}
	v, ok := demoCache.Get(*key)
	if !ok {
		return fmt.Errorf("key not found: %s", *key)
	}
	fmt.Println(string(v))
	return nil
}

func cmdCachectlStats(argv []string) error {
	fs := flag.NewFlagSet("cachectl stats", flag.ExitOnError)
	_ = fs.Parse(argv)
	for _, t := range []cache.Tier{cache.L1, cache.L2, cache.L3, cache.Disk} {
		s := demoCache.Stats(t)
		fmt.Printf("%-4s entries=%d bytes=%d hits=%d misses=%d evictions=%d\n",
			t, s.Entries, s.Bytes, s.Hits, s.Misses, s.Evictions)
	}
	return nil
}

func cmdCachectlMain(argv []string) int {
	if len(argv) < 1 {
		fmt.Fprintln(os.Stderr, "usage: aether-kernel cachectl <put|get|stats> [flags]")
		return 2
	}
	sub, subargv := argv[0], argv[1:]

	var err error
	switch sub {
	case "put":
		err = cmdCachectlPut(subargv)
	case "get":
		err = cmdCachectlGet(subargv)
	case "stats":
		err = cmdCachectlStats(subargv)
	default:
		fmt.Fprintln(os.Stderr, "unknown cachectl subcommand")
		return 2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "cachectl", sub, "error:", err)
		return 1
	}
	return 0
}
