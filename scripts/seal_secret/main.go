// seal_secret encrypts a value for use as BINANCE_API_SECRET.
//
//	go run ./scripts/seal_secret -gen           # print a new ENCRYPTION_KEY
//	ENCRYPTION_KEY=... go run ./scripts/seal_secret <secret>
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"hedge-core/pkg/crypto"
)

func main() {
	gen := flag.Bool("gen", false, "generate a new hex key")
	flag.Parse()

	if *gen {
		key, err := crypto.GenerateKey()
		if err != nil {
			logrus.Fatalf("generate key: %v", err)
		}
		fmt.Println(key)
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: seal_secret [-gen] <secret>")
		os.Exit(2)
	}
	enc, err := crypto.NewEncryptorFromHex(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		logrus.Fatalf("ENCRYPTION_KEY: %v", err)
	}
	sealed, err := enc.Encrypt(flag.Arg(0))
	if err != nil {
		logrus.Fatalf("encrypt: %v", err)
	}
	fmt.Println(sealed)
}
