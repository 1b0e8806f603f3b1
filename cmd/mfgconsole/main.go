// Command mfgconsole は製造業務コンソールのCLIとWebコンソール。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/mfgconsole/internal/app"
)

func main() {
	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", app.Describe(err))
		os.Exit(1)
	}
}
