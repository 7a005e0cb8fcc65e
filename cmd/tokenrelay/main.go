// Command tokenrelay serves a continuously refreshed OAuth2 access token to
// local callers.
package main

import "os"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(execute(newRootCmd(version), os.Args[1:]))
}
