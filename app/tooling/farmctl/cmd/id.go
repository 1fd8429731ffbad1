package cmd

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/porchain/porchain/foundation/por/signature"
	"github.com/spf13/cobra"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print the farmer id for the specified key",
	Run:   idRun,
}

func init() {
	rootCmd.AddCommand(idCmd)
}

func idRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(signature.FarmerID(privateKey))
}
