// Command jiranotify forwards new Jira issues to a Telegram chat.
package main

import (
	"fmt"
	"os"
	_ "time/tzdata" // watch.timezone on hosts without a zone database

	"jiranotify/internal/cli"
)

// version is set at build time using -ldflags.
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
