// Command keytool encrypts an operator private key into a marketd keystore
// file, or checks that an existing keystore decrypts.
//
//	MARKETD_KEY=0x... MARKETD_KEY_PASSWORD=... keytool -out operator.json
//	MARKETD_KEY_PASSWORD=... keytool -verify operator.json
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
)

func main() {
	out := flag.String("out", "", "write an encrypted keystore to this path")
	verify := flag.String("verify", "", "decrypt this keystore and print its address")
	keyEnv := flag.String("key-env", "MARKETD_KEY", "environment variable holding the hex private key")
	passEnv := flag.String("password-env", "MARKETD_KEY_PASSWORD", "environment variable holding the keystore password")
	flag.Parse()

	password := os.Getenv(*passEnv)
	if password == "" {
		fatalf("%s is not set", *passEnv)
	}

	switch {
	case *verify != "":
		signer, err := crypto.LoadOperatorKey(crypto.OperatorKeyConfig{
			KeystorePath: *verify,
			Password:     password,
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(signer.Address().Hex())

	case *out != "":
		key := os.Getenv(*keyEnv)
		if key == "" {
			fatalf("%s is not set", *keyEnv)
		}
		data, err := crypto.EncryptKey(key, password)
		if err != nil {
			fatalf("%v", err)
		}
		if err := os.WriteFile(*out, data, 0o600); err != nil {
			fatalf("write keystore: %v", err)
		}
		signer, err := crypto.NewSigner(key)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("wrote %s for %s\n", *out, signer.Address().Hex())

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "keytool: "+format+"\n", args...)
	os.Exit(1)
}
