package main

import (
	"os"

	"github.com/hohice/mysql-replay-module/pkg/credentials"
)

// GetSessionKey returns a deterministic replay-cache key for the demo's
// single synthetic session: the credential store's user-name hash of a
// fixed label, standing in for the key a host derives from a real
// (client_ip, client_port) pair.
func GetSessionKey() uint64 {
	return credentials.GetKeyFromUser("replaysim-demo-session")
}

func cmdStdout() *os.File {
	return os.Stdout
}
