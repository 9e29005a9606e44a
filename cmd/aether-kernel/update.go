package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"aether.dev/kernel/boot"
	"aether.dev/kernel/update"
)

func parseVersion(s string) (update.Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return update.Version{}, fmt.Errorf("version %q must be major.minor.patch", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return update.Version{}, fmt.Errorf("version %q: %w", s, err)
		}
		nums[i] = n
	}
	return update.Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func parsePatchMethod(s string) (update.PatchMethod, error) {
	switch strings.ToLower(s) {
	case "functionreplacement", "":
		return update.FunctionReplacement, nil
	case "trampolineinsertion":
		return update.TrampolineInsertion, nil
	case "callbackreplacement":
		return update.CallbackReplacement, nil
	case "objectreplacement":
		return update.ObjectReplacement, nil
	case "addresstableupdate":
		return update.AddressTableUpdate, nil
	default:
		return 0, fmt.Errorf("unknown patch method %q", s)
	}
}

func openStoreAndManager(dbPath string) (*update.Store, *update.Manager, error) {
	store, err := update.OpenStore(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	mgr := update.NewManager(update.DefaultConfig(), boot.NewKeyStore(), store, nil)
	return store, mgr, nil
}

func cmdUpdateRegister(argv []string) error {
	fs := flag.NewFlagSet("update register", flag.ExitOnError)
	dbPath := fs.String("db", "update.db", "bbolt snapshot/backup store path")
	id := fs.String("id", "", "package id")
	name := fs.String("name", "", "package name")
	version := fs.String("version", "", "major.minor.patch")
	target := fs.String("target", "", "target module id")
	codeFile := fs.String("code-file", "", "path to the patch code")
	method := fs.String("method", "FunctionReplacement", "patch method")
	deps := fs.String("deps", "", "comma-separated dependency package ids")
	autoRollback := fs.Bool("auto-rollback", true, "roll back automatically on apply failure")
	_ = fs.Parse(argv)
	if *id == "" || *name == "" || *version == "" || *target == "" || *codeFile == "" {
		return fmt.Errorf("missing required flags: --id --name --version --target --code-file")
	}

	v, err := parseVersion(*version)
	if err != nil {
		return err
	}
	m, err := parsePatchMethod(*method)
	if err != nil {
		return err
	}
	code, err := os.ReadFile(*codeFile)
	if err != nil {
		return fmt.Errorf("code-file: %w", err)
	}
	var depIDs []string
	if *deps != "" {
		depIDs = strings.Split(*deps, ",")
	}

	store, mgr, err := openStoreAndManager(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := mgr.Register(update.Package{
		ID:             *id,
		Name:           *name,
		Version:        v,
		TargetModuleID: *target,
		Code:           code,
		Dependencies:   depIDs,
		Method:         m,
		AutoRollback:   *autoRollback,
	}); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func cmdUpdateApply(argv []string) error {
	fs := flag.NewFlagSet("update apply", flag.ExitOnError)
	dbPath := fs.String("db", "update.db", "bbolt snapshot/backup store path")
	id := fs.String("id", "", "package id")
	_ = fs.Parse(argv)
	if *id == "" {
		return fmt.Errorf("missing required flag: --id")
	}

	store, mgr, err := openStoreAndManager(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := mgr.ApplyUpdate(*id)
	if err != nil {
		return err
	}
	fmt.Printf("final_state=%s err=%q\n", result.FinalState, result.Err)
	return nil
}

func cmdUpdateHistory(argv []string) error {
	fs := flag.NewFlagSet("update history", flag.ExitOnError)
	dbPath := fs.String("db", "update.db", "bbolt snapshot/backup store path")
	_ = fs.Parse(argv)

	store, mgr, err := openStoreAndManager(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, r := range mgr.History() {
		fmt.Printf("%s -> %s (%s)\n", r.PackageID, r.FinalState, r.Err)
	}
	return nil
}

func cmdUpdateEvents(argv []string) error {
	fs := flag.NewFlagSet("update events", flag.ExitOnError)
	dbPath := fs.String("db", "update.db", "bbolt snapshot/backup store path")
	_ = fs.Parse(argv)

	store, mgr, err := openStoreAndManager(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, e := range mgr.Events() {
		fmt.Printf("%s %s %s\n", e.PackageID, e.Type, e.Detail)
	}
	return nil
}

func cmdUpdateMain(argv []string) int {
	if len(argv) < 1 {
		fmt.Fprintln(os.Stderr, "usage: aether-kernel update <register|apply|history|events> [flags]")
		return 2
	}
	sub, subargv := argv[0], argv[1:]

	var err error
	switch sub {
	case "register":
		err = cmdUpdateRegister(subargv)
	case "apply":
		err = cmdUpdateApply(subargv)
	case "history":
		err = cmdUpdateHistory(subargv)
	case "events":
		err = cmdUpdateEvents(subargv)
	default:
		fmt.Fprintln(os.Stderr, "unknown update subcommand")
		return 2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "update", sub, "error:", err)
		return 1
	}
	return 0
}
