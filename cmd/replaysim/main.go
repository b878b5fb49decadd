// Command replaysim drives the MySQL replay module (pkg/mysqlplugin) over a
// synthesized capture (a greeting, a client auth handshake, a PREPARE, and
// a renew-triggering EXECUTE) and narrates the resulting splice. It exists
// to exercise the module end to end outside of a real capture host.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("replaysim: %v", err))
		os.Exit(1)
	}
}
