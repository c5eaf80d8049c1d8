// Development utility for generating a test API token with its SHA-256
// hash pre-computed. It prints the plaintext, the hash, and a ready-to-run
// SQL INSERT so developers can quickly seed a usable publish token in a
// local database without walking the full OAuth + new_token flow. Do not
// use generated tokens in production — mint them through /new_token so the
// plaintext is only ever seen once by its owner.
package main

import (
	"fmt"
	"log"

	"github.com/forc-lang/forc-registry/internal/auth"
)

func main() {
	plaintext, hash, err := auth.GenerateToken()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("API Token Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nPlaintext: %s\n", plaintext)
	fmt.Printf("\nHash: %s\n", hash)
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Insert:")
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO api_tokens (user_id, friendly_name, token_hash, created_at)
SELECT id, 'dev', '%s', now()
FROM users WHERE login = 'dev';
`, hash)
	fmt.Println("\n==========================================================")
	fmt.Printf("Authorization Header: Bearer %s\n", plaintext)
	fmt.Println("==========================================================")
}
