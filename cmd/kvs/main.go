// Command kvs is the command line front end of the key-value store.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/intellect4all/kvs/common"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if errors.Is(err, common.ErrKeyNotFound) {
			fmt.Fprintln(root.OutOrStdout(), "Key not found")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
