// Package cmd contains farmctl app
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	keyName string
	keyPath string
	node    string
)

const (
	keyExtension = ".ecdsa"
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&keyName, "key", "k", "farmer.ecdsa", "Name of the private key file.")
	rootCmd.PersistentFlags().StringVarP(&keyPath, "key-path", "p", "zblock/", "Path to the directory with private keys.")
	rootCmd.PersistentFlags().StringVarP(&node, "node", "n", "localhost:8080", "Public host of the node to query.")
}

var rootCmd = &cobra.Command{
	Use:   "farmctl",
	Short: "Manage a farmer identity and inspect a node",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func getPrivateKeyPath() string {
	if !strings.HasSuffix(keyName, keyExtension) {
		keyName += keyExtension
	}

	return filepath.Join(keyPath, keyName)
}
