// Command videoloft-cli inspects a Videoloft account with the bridge
// configuration: cameras, live status, thumbnails, events and the vision quota.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
