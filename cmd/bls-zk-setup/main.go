// bls-zk-setup generates the Groth16 proving/verifying keys for every stage
// of the light-client proof chain (pk-tree, macro-block, macro-block-
// wrapper, merger, merger-wrapper) and writes them to a directory for
// cmd/node and light clients to load at startup instead of re-running
// setup on every launch.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/albatross-go/node/internal/zkp"
)

func main() {
	dir := flag.String("out", "./zkp-keys", "directory to write the generated key set to")
	flag.Parse()

	keys, err := zkp.Setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	if err := keys.SaveToFiles(*dir); err != nil {
		fmt.Fprintf(os.Stderr, "save keys: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote proof-chain key set to %s\n", *dir)
}
