// This program manages the farmer identity and inspects a running node.
package main

import (
	"github.com/porchain/porchain/app/tooling/farmctl/cmd"
)

func main() {
	cmd.Execute()
}
