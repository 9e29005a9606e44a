package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"aether.dev/kernel/boot"
)

func parsePolicy(s string) (boot.Policy, error) {
	switch strings.ToLower(s) {
	case "strict":
		return boot.PolicyStrict, nil
	case "warn":
		return boot.PolicyWarn, nil
	case "audit":
		return boot.PolicyAudit, nil
	case "disabled":
		return boot.PolicyDisabled, nil
	default:
		return 0, fmt.Errorf("unknown policy %q (want strict|warn|audit|disabled)", s)
	}
}

func parseKeyType(s string) (boot.KeyType, error) {
	switch strings.ToLower(s) {
	case "rsa":
		return boot.KeyTypeRSA, nil
	case "ecdsa":
		return boot.KeyTypeECDSA, nil
	case "ed25519":
		return boot.KeyTypeEd25519, nil
	case "postquantum":
		return boot.KeyTypePostQuantum, nil
	default:
		return 0, fmt.Errorf("unknown key type %q (want rsa|ecdsa|ed25519|postquantum)", s)
	}
}

func cmdBootImportKey(argv []string, keys *boot.KeyStore) error {
	fs := flag.NewFlagSet("boot import-key", flag.ExitOnError)
	pubkeyHex := fs.String("pubkey-hex", "", "public key bytes (hex)")
	keyType := fs.String("key-type", "ed25519", "rsa|ecdsa|ed25519|postquantum")
	usage := fs.String("usage", "KernelSigning", "key usage tag")
	issuer := fs.String("issuer", "", "issuer name")
	_ = fs.Parse(argv)
	if *pubkeyHex == "" {
		return fmt.Errorf("missing required flag: --pubkey-hex")
	}

	pub, err := hexDecodeStrict(*pubkeyHex)
	if err != nil {
		return fmt.Errorf("pubkey-hex: %w", err)
	}
	kt, err := parseKeyType(*keyType)
	if err != nil {
		return err
	}
	key := boot.TrustedKey{
		KeyID:    boot.NewKeyIDFromHash(pub),
		Type:     kt,
		KeyBytes: pub,
		Issuer:   *issuer,
		Usage:    *usage,
	}
	if err := keys.Import(key); err != nil {
		return err
	}
	fmt.Printf("imported key_id=%x\n", key.KeyID)
	return nil
}

func cmdBootVerifyImage(argv []string, v *boot.Verifier) error {
	fs := flag.NewFlagSet("boot verify-image", flag.ExitOnError)
	name := fs.String("name", "", "image name")
	dataFile := fs.String("data-file", "", "path to the image bytes")
	sigFile := fs.String("sig-file", "", "path to the detached signature (optional)")
	pcrIndex := fs.Uint("pcr-index", uint(boot.PCRKernelModules), "PCR index to extend with the image measurement")
	_ = fs.Parse(argv)
	if *name == "" || *dataFile == "" {
		return fmt.Errorf("missing required flags: --name --data-file")
	}

	data, err := os.ReadFile(*dataFile)
	if err != nil {
		return fmt.Errorf("data-file: %w", err)
	}
	var sig []byte
	if *sigFile != "" {
		sig, err = os.ReadFile(*sigFile)
		if err != nil {
			return fmt.Errorf("sig-file: %w", err)
		}
	}

	result, err := v.VerifyImage(context.Background(), uint32(*pcrIndex), *name, data, sig)
	if err != nil {
		return err
	}
	if err := v.HandleVerificationResult(*name, result); err != nil {
		return err
	}
	fmt.Printf("success=%v hash_verified=%v algorithm=%s reason=%q\n",
		result.Success, result.HashVerified, result.AlgorithmUsed, result.FailureReason)
	if !result.Success {
		return fmt.Errorf("verification failed: %s", result.FailureReason)
	}
	return nil
}

func cmdBootChain(argv []string, log *boot.Log) error {
	fs := flag.NewFlagSet("boot chain", flag.ExitOnError)
	_ = fs.Parse(argv)
	fmt.Printf("%x\n", log.Chain())
	return nil
}

func cmdBootMain(argv []string) int {
	if len(argv) < 1 {
		fmt.Fprintln(os.Stderr, "usage: aether-kernel boot <import-key|verify-image|chain> [flags]")
		return 2
	}
	sub, subargv := argv[0], argv[1:]

	keys := boot.NewKeyStore()
	hashes := boot.NewTrustedHashDB()
	log := boot.NewLog(nil, nil)
	v := boot.NewVerifier(boot.DefaultConfig(), keys, hashes, log, nil)

	var err error
	switch sub {
	case "import-key":
		err = cmdBootImportKey(subargv, keys)
	case "verify-image":
		err = cmdBootVerifyImage(subargv, v)
	case "chain":
		err = cmdBootChain(subargv, log)
	default:
		fmt.Fprintln(os.Stderr, "unknown boot subcommand")
		return 2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "boot", sub, "error:", err)
		return 1
	}
	return 0
}
