package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status  *StatusCommand
	Doc     *DocCommand
	Visit   *VisitCommand
	Tree    *TreeCommand
	Summary *SummaryCommand
	Search  *SearchCommand
	Import  *ImportCommand
	Prune   *PruneCommand
	Clear   *ClearCommand
	Ingest  *IngestCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "readtrail"
	parser.LongDescription = "Per-page reading time tracking for documents in a shared object store."

	cmds := &commands{
		Status:  &StatusCommand{globals: &globals, version: version},
		Doc:     &DocCommand{globals: &globals, version: version},
		Visit:   &VisitCommand{globals: &globals, version: version},
		Tree:    &TreeCommand{globals: &globals, version: version},
		Summary: &SummaryCommand{globals: &globals, version: version},
		Search:  &SearchCommand{globals: &globals, version: version},
		Import:  &ImportCommand{globals: &globals, version: version},
		Prune:   &PruneCommand{globals: &globals, version: version},
		Clear:   &ClearCommand{globals: &globals, version: version},
		Ingest:  &IngestCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show database and tracking status", "Show database statistics, tracking settings and daemon health.", cmds.Status)
	parser.AddCommand("doc", "Register a document", "Register or update a document in the object store.", cmds.Doc)
	parser.AddCommand("visit", "Record page visits by hand", "Record one or more page visits for a document and save them.", cmds.Visit)
	parser.AddCommand("tree", "Print the reading history tree", "Print library, documents, pages and visit times as a tree.", cmds.Tree)
	parser.AddCommand("summary", "Show reading time", "Show reading time per page of a document, or per document of the library.", cmds.Summary)
	parser.AddCommand("search", "Search the object store", "Search documents, notes and items by text, kind or parent. History notes are never listed.", cmds.Search)
	parser.AddCommand("import", "Import a legacy export", "Merge a legacy reading history export into the current history.", cmds.Import)
	parser.AddCommand("prune", "Drop history of deleted documents", "Remove the reading history of documents no longer in the object store.", cmds.Prune)
	parser.AddCommand("clear", "Delete reading history", "Delete the reading history of one document, or of the whole library with --all.", cmds.Clear)
	parser.AddCommand("ingest", "Start the readtrail daemon", "Start the readtrail daemon (local HTTP service) and the page sampler.", cmds.Ingest)

	return parser, &globals, cmds
}

// Run is the main entry point for the readtrail CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("readtrail %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
