// Command relay serves signed platform webhooks using the built-in
// handlers. Applications with their own handlers call commands.Execute
// with a HandlerSet of their own.
package main

import (
	"os"

	"github.com/conduit-lang/relay/internal/builtin"
	"github.com/conduit-lang/relay/internal/cli/commands"
)

func main() {
	if err := commands.Execute(builtin.Handlers()); err != nil {
		os.Exit(1)
	}
}
