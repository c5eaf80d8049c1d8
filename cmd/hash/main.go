// Package main is a utility for computing the SHA-256 storage hash of an
// API token plaintext. The registry stores only hashes of tokens — never
// the plaintext — so this tool is used when manually seeding or verifying
// api_tokens rows in the database without running the full server.
package main

import (
	"fmt"
	"os"

	"github.com/forc-lang/forc-registry/internal/auth"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hash <token-plaintext>")
		os.Exit(2)
	}
	fmt.Println(auth.HashToken(os.Args[1]))
}
