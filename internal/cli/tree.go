package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/runnerr0/readtrail/internal/app"
	"github.com/runnerr0/readtrail/internal/view"
)

// Execute implements the go-flags Commander interface for TreeCommand.
func (c *TreeCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp prints the tree of an opened app (for testing).
func (c *TreeCommand) executeWithApp(ctx context.Context, a *app.App) error {
	tz := c.TZ
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid --tz: %w", err)
	}
	root, err := a.Tree(ctx, libraryOr(a, c.Library), view.WithLocation(loc))
	if err != nil {
		return err
	}
	if c.globals != nil && c.globals.JSON {
		return printJSON(root)
	}
	if len(root.Children) == 0 {
		fmt.Println("No reading history.")
		return nil
	}
	printNode(root, 0)
	return nil
}

func printNode(n *view.Node, depth int) {
	fmt.Printf("%s%s\n", strings.Repeat("  ", depth), n.Label)
	for _, child := range n.Children {
		printNode(child, depth+1)
	}
}
