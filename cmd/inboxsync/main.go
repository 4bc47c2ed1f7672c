// Command inboxsync syncs a mailbox into a local store.
package main

import "github.com/nhle/inbox-sync/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
