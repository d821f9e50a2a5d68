package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand shows database stats, tracking settings and daemon health.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// DocCommand registers a document in the object store.
type DocCommand struct {
	Key     string   `long:"key" description:"Document key (required)"`
	Title   string   `long:"title" description:"Document title"`
	Tags    []string `long:"tag" description:"Tag (repeatable)"`
	Library int64    `long:"library" description:"Library id (default from config)"`

	globals *GlobalFlags
	version string
}

// VisitCommand records page visits by hand.
type VisitCommand struct {
	Key       string `long:"key" description:"Document key (required)"`
	Page      int    `long:"page" description:"Page number, starting at 1 (required)"`
	PageCount int    `long:"page-count" description:"Number of pages in the document"`
	Ago       string `long:"ago" description:"Start this long ago (e.g., 15m, 2h, 1d)"`
	Samples   int    `long:"samples" description:"Samples to record, one scan period apart" default:"1"`
	Library   int64  `long:"library" description:"Library id (default from config)"`

	globals *GlobalFlags
	version string
}

// TreeCommand prints the library -> document -> page -> visit tree.
type TreeCommand struct {
	Library int64  `long:"library" description:"Library id (default from config)"`
	TZ      string `long:"tz" description:"Time zone of visit times (e.g., Europe/Paris, Local)" default:"UTC"`

	globals *GlobalFlags
	version string
}

// SummaryCommand reports the reading time of a document or of the whole library.
type SummaryCommand struct {
	Key     string `long:"key" description:"Document key; omit for the library summary"`
	Library int64  `long:"library" description:"Library id (default from config)"`
	Limit   int    `long:"limit" description:"Documents listed in the library summary" default:"10"`

	globals *GlobalFlags
	version string
}

// SearchCommand finds objects of the store. History notes never match.
type SearchCommand struct {
	Text           string `long:"text" description:"Substring of the title or body"`
	Kind           string `long:"kind" description:"Object kind (document, note, item)"`
	Parent         string `long:"parent" description:"Key of the parent object"`
	Library        int64  `long:"library" description:"Library id (default from config)"`
	Limit          int    `long:"limit" description:"Maximum number of results" default:"50"`
	IncludeTrashed bool   `long:"include-trashed" description:"Include objects in the trash"`

	globals *GlobalFlags
	version string
}

// ImportCommand merges a legacy export file into the history.
type ImportCommand struct {
	File  string `long:"file" description:"Legacy export JSON file (required)"`
	Quiet bool   `long:"quiet" description:"Do not print progress"`

	globals *GlobalFlags
	version string
}

// PruneCommand drops the history of documents that no longer exist.
type PruneCommand struct {
	Library int64 `long:"library" description:"Library id (default from config)"`
	DryRun  bool  `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
}

// ClearCommand deletes the reading history of one document or of a library.
type ClearCommand struct {
	Key     string `long:"key" description:"Document whose history is cleared"`
	All     bool   `long:"all" description:"Clear the history of every document in the library"`
	Force   bool   `long:"force" description:"Skip safety confirmation prompt"`
	Library int64  `long:"library" description:"Library id (default from config)"`

	globals *GlobalFlags
	version string
}

// IngestCommand starts the readtrail daemon (local HTTP service).
type IngestCommand struct {
	Host     string `long:"host" description:"Override daemon host"`
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}
