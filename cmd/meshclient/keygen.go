package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/immxrtalbeast/axenix_mesh/internal/sealer"
)

var flagJWK bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new random room key",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, key, err := sealer.Generate()
		if err != nil {
			return err
		}
		if !flagJWK {
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			return nil
		}

		// Same shape WebCrypto exports, so browser peers can import it.
		out, err := json.Marshal(map[string]any{
			"kty":     "oct",
			"alg":     "A256GCM",
			"k":       base64.RawURLEncoding.EncodeToString(key),
			"ext":     true,
			"key_ops": []string{"encrypt", "decrypt"},
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	keygenCmd.Flags().BoolVar(&flagJWK, "jwk", false, "print the key as a JWK instead of hex")
}
