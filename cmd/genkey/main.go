// Command genkey mints an API key for the management API. It prints the
// plaintext key once, for handing to the caller, and the bcrypt hash to
// put in api.api_key_hash. The plaintext is never stored.
package main

import (
	"fmt"
	"os"

	"github.com/seojun/maildrain/internal/auth"
)

func main() {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate API key: %v\n", err)
		os.Exit(1)
	}

	hash, err := auth.HashAPIKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key (give to caller, shown once):\n  %s\n\n", key)
	fmt.Printf("Config value for api.api_key_hash:\n  %s\n", hash)
}
