// Command dbwatch decodes SQLite database files page by page and reports
// how they change over time.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/FocuswithJustin/dbwatch/core/cas"
	"github.com/FocuswithJustin/dbwatch/core/changes"
	"github.com/FocuswithJustin/dbwatch/core/sqlite"
	"github.com/FocuswithJustin/dbwatch/internal/logging"
	"github.com/FocuswithJustin/dbwatch/internal/validation"
	"github.com/FocuswithJustin/dbwatch/internal/watch"
)

const version = "0.1.0"

// stdout receives command output. Tests replace it.
var stdout io.Writer = os.Stdout

// cli defines the command-line interface for dbwatch.
type cli struct {
	// Global flags
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" default:"info" env:"DBWATCH_LOG_LEVEL" enum:"debug,info,warn,warning,error"`
	LogFormat string `name:"log-format" help:"Log format (json, text)" default:"text" env:"DBWATCH_LOG_FORMAT" enum:"json,text"`

	Info     InfoCmd     `cmd:"" help:"Print the decoded file header"`
	Tree     TreeCmd     `cmd:"" help:"Print the decoded page tree"`
	Diff     DiffCmd     `cmd:"" help:"Report changes between two database files"`
	Watch    WatchCmd    `cmd:"" help:"Watch a database file and log changes as they happen"`
	Query    QueryCmd    `cmd:"" help:"Run a read-only SQL query through the SQLite driver"`
	Versions VersionsCmd `cmd:"" help:"List or compare database versions in an archive"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// CLI holds the parsed command line.
var CLI cli

// initLogging configures the global logger from the global flags.
func initLogging(level, format string) error {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	f, err := logging.ParseFormat(format)
	if err != nil {
		return err
	}
	logging.InitLogger(lvl, f)
	return nil
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(stdout)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// InfoCmd prints the file header and derived values.
type InfoCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
}

func (c *InfoCmd) Run() error {
	db, err := sqlite.ParseDatabase(context.Background(), c.Path)
	if err != nil {
		return err
	}
	m := db.Metadata

	table := newTable("Field", "Value")
	table.AppendBulk([][]string{
		{"Path", db.Path},
		{"File size", fmt.Sprintf("%s (%d bytes)", humanize.IBytes(uint64(db.Size)), db.Size)},
		{"Page size", strconv.Itoa(m.PageSize)},
		{"Usable size", strconv.Itoa(m.UsableSize())},
		{"Pages", strconv.FormatUint(uint64(db.PageCount), 10)},
		{"Header page count", strconv.FormatUint(uint64(m.DatabaseSize), 10)},
		{"Write/read version", fmt.Sprintf("%d/%d", m.WriteVersion, m.ReadVersion)},
		{"Reserved space", strconv.Itoa(int(m.ReservedSpace))},
		{"Payload fractions", fmt.Sprintf("max %d, min %d, leaf %d", m.MaxPayloadFrac, m.MinPayloadFrac, m.LeafPayloadFrac)},
		{"File change counter", strconv.FormatUint(uint64(m.FileChangeCounter), 10)},
		{"Freelist", fmt.Sprintf("%d pages, first trunk %d", m.FreelistCount, m.FirstFreelist)},
		{"Schema cookie", strconv.FormatUint(uint64(m.SchemaCookie), 10)},
		{"Schema format", strconv.FormatUint(uint64(m.SchemaFormat), 10)},
		{"Text encoding", m.EncodingName()},
		{"User version", strconv.FormatUint(uint64(m.UserVersion), 10)},
		{"Application ID", fmt.Sprintf("0x%08x", m.AppID)},
		{"SQLite version", m.VersionString()},
		{"Tables and indexes", strconv.Itoa(db.SchemaObjects())},
		{"Tree nodes", strconv.Itoa(db.Tree().Size())},
		{"Fingerprint", db.Fingerprint},
	})
	table.Render()
	return nil
}

// TreeCmd prints the decoded page tree.
type TreeCmd struct {
	Path  string `arg:"" help:"Database file" type:"existingfile"`
	Depth int    `help:"Maximum depth to print (0 for all)" default:"0"`
	Slots int    `help:"Maximum slots to print per page (0 for none)" default:"5"`
	Width int    `help:"Truncate slot previews to this many characters" default:"72"`
}

func (c *TreeCmd) Run() error {
	db, err := sqlite.ParseDatabase(context.Background(), c.Path)
	if err != nil {
		return err
	}
	printTree(stdout, db.Tree(), c.Depth, c.Slots, c.Width)
	return nil
}

func printTree(w io.Writer, t *sqlite.Tree, maxDepth, maxSlots, width int) {
	t.Walk(func(n *sqlite.Node, depth int) bool {
		if maxDepth > 0 && depth >= maxDepth {
			return true
		}
		indent := strings.Repeat("  ", depth)
		cell := n.Cell
		fmt.Fprintf(w, "%spage %d %s (%d cells)\n", indent, cell.PageNumber, cell.Type, cell.Count)

		for i := 0; i < len(cell.Data) && i < maxSlots; i++ {
			line := truncate(cell.Data[i], width)
			if cell.IsTable[i] {
				line += fmt.Sprintf(" -> page %d", cell.ChildPages[i])
			}
			if len(cell.Overflow[i]) > 0 {
				line += fmt.Sprintf(" (+%d overflow)", len(cell.Overflow[i]))
			}
			fmt.Fprintf(w, "%s  [%d] %s\n", indent, i, line)
		}
		if hidden := len(cell.Data) - maxSlots; maxSlots >= 0 && hidden > 0 {
			fmt.Fprintf(w, "%s  ... %d more\n", indent, hidden)
		}
		return true
	})
}

func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

// DiffCmd reports the changes between two database files.
type DiffCmd struct {
	Old  string `arg:"" help:"Older database file" type:"existingfile"`
	New  string `arg:"" help:"Newer database file" type:"existingfile"`
	JSON bool   `help:"Print the log item as JSON"`
}

func (c *DiffCmd) Run() error {
	ctx := context.Background()
	oldDB, err := sqlite.ParseDatabase(ctx, c.Old)
	if err != nil {
		return err
	}
	newDB, err := sqlite.ParseDatabase(ctx, c.New)
	if err != nil {
		return err
	}
	return reportDiff(newDB, oldDB, c.JSON)
}

// reportDiff prints the changes from oldDB to newDB as text or JSON.
func reportDiff(newDB, oldDB *sqlite.Database, asJSON bool) error {
	item, _ := changes.NewDetector(nil).DetectChanges(newDB, oldDB)
	if asJSON {
		if item == nil {
			item = &changes.LogItem{Entries: []string{}}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	}
	if item == nil {
		fmt.Fprintln(stdout, "no changes")
		return nil
	}
	printItem(stdout, item)
	return nil
}

func printItem(w io.Writer, item *changes.LogItem) {
	for _, entry := range item.Entries {
		fmt.Fprintf(w, "%s %s\n", item.Timestamp, strings.TrimSuffix(entry, "\n"))
	}
}

// WatchCmd watches a database file until interrupted.
type WatchCmd struct {
	Path      string        `arg:"" help:"Database file" type:"existingfile"`
	Interval  time.Duration `help:"Poll interval" default:"1s"`
	CacheSize int           `name:"cache-size" help:"Page cache size in pages" default:"2000"`
	Archive   string        `help:"Directory to archive every decoded version in" type:"path"`
	ExportDir string        `name:"export-dir" help:"Directory to write the change history to on exit (xz-compressed JSON lines)" type:"path"`
}

func (c *WatchCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.run(ctx)
}

func (c *WatchCmd) run(ctx context.Context) error {
	cfg := watch.DefaultConfig()
	cfg.Path = c.Path
	cfg.Interval = c.Interval
	cfg.CacheSize = c.CacheSize
	cfg.ArchiveDir = c.Archive

	w, err := watch.New(cfg, watch.WithNotify(func(e watch.Event) {
		if e.Previous == nil {
			fmt.Fprintf(stdout, "watching %s (%d pages, %s)\n", c.Path, e.Snapshot.PageCount, humanize.IBytes(uint64(e.Snapshot.Size)))
			return
		}
		if e.Item != nil {
			printItem(stdout, e.Item)
		}
	}))
	if err != nil {
		return err
	}

	if err := w.Run(ctx); err != nil {
		return err
	}

	if c.ExportDir == "" {
		return nil
	}
	path, err := writeExport(c.ExportDir, c.Path, w.SessionID(), w.Log())
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %d log items to %s\n", w.Log().Len(), path)
	return nil
}

// writeExport writes log to <dir>/<database name>-<session>.jsonl.xz.
func writeExport(dir, dbPath, sessionID string, log *changes.Log) (string, error) {
	name, err := validation.SanitizeFilename(filepath.Base(dbPath))
	if err != nil {
		return "", fmt.Errorf("invalid export name: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl.xz", name, sessionID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := log.ExportXZ(f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}
	return path, nil
}

// QueryCmd runs a read-only SQL query.
type QueryCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
	SQL  string `arg:"" help:"SQL statement"`
}

func (c *QueryCmd) Run() error {
	res, err := sqlite.Query(context.Background(), c.Path, c.SQL)
	if err != nil {
		return err
	}
	table := newTable(res.Columns...)
	table.AppendBulk(res.Rows)
	table.Render()
	fmt.Fprintf(stdout, "%d rows\n", len(res.Rows))
	return nil
}

// VersionsCmd groups the archive commands.
type VersionsCmd struct {
	List VersionsListCmd `cmd:"" default:"withargs" help:"List archived versions"`
	Diff VersionsDiffCmd `cmd:"" help:"Report changes between two archived versions"`
}

// VersionsListCmd lists archived database versions.
type VersionsListCmd struct {
	Archive string `arg:"" help:"Archive directory" type:"existingdir"`
}

func (c *VersionsListCmd) Run() error {
	store, err := cas.NewStore(c.Archive)
	if err != nil {
		return err
	}
	versions, err := store.Versions()
	if err != nil {
		return err
	}

	table := newTable("Digest", "Size", "Archived", "Source")
	for _, v := range versions {
		table.Append([]string{
			v.Digest[:16],
			humanize.IBytes(uint64(v.Size)),
			v.ArchivedAt.Format(time.RFC3339),
			v.Source,
		})
	}
	table.Render()
	return nil
}

// VersionsDiffCmd diffs two archived versions, named by digest or by a
// digest prefix as printed by the list command.
type VersionsDiffCmd struct {
	Archive string `arg:"" help:"Archive directory" type:"existingdir"`
	Old     string `arg:"" help:"Older version digest or prefix"`
	New     string `arg:"" help:"Newer version digest or prefix"`
	JSON    bool   `help:"Print the log item as JSON"`
}

func (c *VersionsDiffCmd) Run() error {
	store, err := cas.NewStore(c.Archive)
	if err != nil {
		return err
	}
	ctx := context.Background()
	oldDB, err := parseVersion(ctx, store, c.Old)
	if err != nil {
		return err
	}
	newDB, err := parseVersion(ctx, store, c.New)
	if err != nil {
		return err
	}
	return reportDiff(newDB, oldDB, c.JSON)
}

// parseVersion decodes an archived version in memory.
func parseVersion(ctx context.Context, store *cas.Store, ref string) (*sqlite.Database, error) {
	v, err := store.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", ref, err)
	}
	data, err := store.Retrieve(v.Digest)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", ref, err)
	}
	db, err := sqlite.Parse(ctx, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", ref, err)
	}
	db.Path = v.Source
	return db, nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := sqlite.GetInfo()
	fmt.Fprintf(stdout, "dbwatch version %s (driver %s, %s)\n", version, info.DriverName, info.Package)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("dbwatch"),
		kong.Description("dbwatch - SQLite page-tree decoder and change detector"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	ctx.FatalIfErrorf(initLogging(CLI.LogLevel, CLI.LogFormat))
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
