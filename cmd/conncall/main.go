// Command conncall runs scripted connections and reports their notifications.
package main

import (
	"os"

	"github.com/meigma/conncall/cmd/conncall/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
