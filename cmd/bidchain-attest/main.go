// bidchain-attest is the bidder-side companion tool: it generates
// bidder keys, signs bid attestations and verifies signed bids offline
// without talking to a server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/bidchain/attest"
)

func main() {
	var (
		mode     = flag.String("mode", "", "Operation: keygen, sign or verify")
		keyPath  = flag.String("key", "", "Private key PEM file (sign) or output path (keygen)")
		auction  = flag.String("auction", "", "Auction UUID (sign)")
		amount   = flag.Int64("amount", 0, "Bid amount in fiat base units (sign)")
		nonce    = flag.Uint64("nonce", 0, "Monotonic nonce for this auction (sign)")
		input    = flag.String("input", "", "Signed bid JSON, file path or inline (verify)")
		name     = flag.String("domain-name", "BidChain", "Signing domain name")
		version  = flag.String("domain-version", "1.0", "Signing domain version")
		chainID  = flag.Uint64("chain-id", 1337, "Signing domain chain id")
		contract = flag.String("contract", "0x0000000000000000000000000000000000000000", "Signing domain verifying contract")
		help     = flag.Bool("help", false, "Show usage information")
	)
	flag.Parse()

	if *help || *mode == "" {
		showUsage()
		if *mode == "" && !*help {
			os.Exit(1)
		}
		return
	}

	domain := attest.Domain{
		Name:              *name,
		Version:           *version,
		ChainID:           *chainID,
		VerifyingContract: *contract,
	}

	var err error
	switch *mode {
	case "keygen":
		err = runKeygen(*keyPath)
	case "sign":
		err = runSign(*keyPath, *auction, *amount, *nonce, domain)
	case "verify":
		err = runVerify(*input, domain)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown mode %q\n", *mode)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

func runKeygen(path string) error {
	key, err := attest.GenerateKey()
	if err != nil {
		return err
	}
	pemStr, err := attest.MarshalPrivateKeyPEM(key)
	if err != nil {
		return err
	}
	fingerprint, err := attest.Fingerprint(&key.PublicKey)
	if err != nil {
		return err
	}

	if path == "" {
		fmt.Print(pemStr)
	} else {
		if err := os.WriteFile(path, []byte(pemStr), 0o600); err != nil {
			return err
		}
		fmt.Printf("Private key written to %s\n", path)
	}
	fmt.Fprintf(os.Stderr, "Bidder identity: %s\n", fingerprint)
	return nil
}

func runSign(keyPath, auction string, amount int64, nonce uint64, domain attest.Domain) error {
	if keyPath == "" {
		return fmt.Errorf("--key is required")
	}
	auctionID, err := uuid.Parse(auction)
	if err != nil {
		return fmt.Errorf("--auction must be a UUID: %w", err)
	}
	if amount <= 0 {
		return fmt.Errorf("--amount must be positive")
	}
	if nonce == 0 {
		return fmt.Errorf("--nonce must be positive")
	}

	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return err
	}
	key, err := attest.ParsePrivateKeyPEM(string(pemBytes))
	if err != nil {
		return err
	}

	sb, err := attest.Sign(auctionID, amount, nonce, time.Now(), domain, key)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(sb, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runVerify(input string, domain attest.Domain) error {
	if input == "" {
		return fmt.Errorf("--input is required")
	}
	raw := []byte(input)
	if !strings.HasPrefix(strings.TrimSpace(input), "{") {
		data, err := os.ReadFile(input)
		if err != nil {
			return err
		}
		raw = data
	}

	var sb attest.SignedBid
	if err := json.Unmarshal(raw, &sb); err != nil {
		return fmt.Errorf("parse signed bid: %w", err)
	}

	if _, err := attest.CheckEnvelope(&sb, domain); err != nil {
		return fmt.Errorf("signature check failed: %w", err)
	}
	fmt.Printf("OK: bid on %s for %d by %s verifies\n", sb.AuctionID, sb.Amount, sb.BidderID)
	return nil
}

func showUsage() {
	fmt.Print(`bidchain-attest - bidder key and attestation tool

Usage:
  bidchain-attest --mode keygen [--key out.pem]
  bidchain-attest --mode sign --key key.pem --auction UUID --amount N --nonce N
  bidchain-attest --mode verify --input signedbid.json

Domain flags (--domain-name, --domain-version, --chain-id, --contract)
must match the server's configuration for signatures to verify.
`)
	flag.PrintDefaults()
}
