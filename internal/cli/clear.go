package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/runnerr0/readtrail/internal/app"
)

// Execute implements the go-flags Commander interface for ClearCommand.
func (c *ClearCommand) Execute(args []string) error {
	if c.Key == "" && !c.All {
		return fmt.Errorf("either --key or --all is required")
	}
	if c.Key != "" && c.All {
		return fmt.Errorf("--key and --all are mutually exclusive")
	}
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp clears history in an opened app (for testing).
func (c *ClearCommand) executeWithApp(ctx context.Context, a *app.App) error {
	return c.executeWithInput(ctx, a, os.Stdin)
}

func (c *ClearCommand) executeWithInput(ctx context.Context, a *app.App, in io.Reader) error {
	lib := libraryOr(a, c.Library)

	if c.Key != "" {
		if err := a.Tracker.Clear(ctx, refFor(a, c.Library, c.Key)); err != nil {
			return err
		}
		fmt.Printf("Cleared reading history of %s\n", c.Key)
		return nil
	}

	store, err := a.Registry.Library(ctx, lib)
	if err != nil {
		return err
	}
	n := store.Len()

	if !c.Force {
		fmt.Printf("This will permanently delete the reading history of %d document(s) in library %d.\n", n, lib)
		fmt.Print("Type CLEAR to confirm: ")

		scanner := bufio.NewScanner(in)
		if !scanner.Scan() {
			fmt.Println()
			fmt.Println("Aborted.")
			return nil
		}
		if strings.TrimSpace(scanner.Text()) != "CLEAR" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := store.ClearAll(ctx); err != nil {
		return err
	}
	fmt.Printf("Cleared reading history of %d document(s)\n", n)
	return nil
}
