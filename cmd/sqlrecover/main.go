// Command sqlrecover inspects and recovers data from a SQLite database
// file by reading its raw page bytes directly, bypassing the query
// engine entirely.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/catalog"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/csvdump"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/reinsert"
	"github.com/FocuswithJustin/sqlrecover/internal/config"
	"github.com/FocuswithJustin/sqlrecover/internal/logging"
)

const version = "0.1.0"

// CLI defines the command-line interface for sqlrecover.
var CLI struct {
	Config  string `name:"config" help:"Path to a YAML config file" type:"path"`
	Catalog string `name:"catalog" help:"Path to a user heuristic catalog, merged over the built-in one" type:"path"`

	Dump     DumpCmd     `cmd:"" help:"Dump a table's live (and optionally recovered) rows as CSV"`
	Undelete UndeleteCmd `cmd:"" help:"Clone the database and re-insert recovered rows into it"`
	Grep     GrepCmd     `cmd:"" help:"Search every page's raw bytes for a needle"`
	Tables   TablesCmd   `cmd:"" help:"List every table the schema learner found"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

func loadConfigAndCatalog() (*config.Config, *catalog.Catalog, error) {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return nil, nil, err
	}
	logging.InitLogger(cfg.Level(), cfg.Format())

	catalogPath := CLI.Catalog
	if catalogPath == "" {
		catalogPath = cfg.CatalogPath
	}
	var userYAML []byte
	if catalogPath != "" {
		userYAML, err = os.ReadFile(catalogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("reading catalog %q: %w", catalogPath, err)
		}
	}
	cat, err := catalog.LoadDefault(userYAML)
	if err != nil {
		return nil, nil, fmt.Errorf("loading heuristic catalog: %w", err)
	}
	return cfg, cat, nil
}

// DumpCmd dumps one table to CSV.
type DumpCmd struct {
	Path      string `arg:"" help:"Path to the SQLite database file" type:"existingfile"`
	Table     string `arg:"" help:"Table name to dump"`
	Out       string `help:"Output directory (defaults to a name derived from the table)" type:"path"`
	Recovered bool   `help:"Include rows recovered from freeblocks"`
	Grouping  string `help:"Heuristic grouping to use when --recovered is set"`
}

func (c *DumpCmd) Run() error {
	cfg, cat, err := loadConfigAndCatalog()
	if err != nil {
		return err
	}

	db, err := sqlrecover.Open(c.Path, cat)
	if err != nil {
		return fmt.Errorf("opening %q: %w", c.Path, err)
	}

	tbl, ok := db.Table(c.Table)
	if !ok {
		return fmt.Errorf("table %q not found in %q", c.Table, c.Path)
	}

	if c.Recovered {
		if err := tbl.Recover(c.Grouping); err != nil {
			return fmt.Errorf("recovering %q: %w", c.Table, err)
		}
	}

	outDir := c.Out
	if outDir == "" {
		outDir, err = csvdump.NextOutputDir(cfg.CSVOutputDir, c.Table)
		if err != nil {
			return err
		}
	}

	path, err := csvdump.DumpTable(outDir, tbl, c.Recovered)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err == nil {
		fmt.Printf("wrote %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))
	} else {
		fmt.Printf("wrote %s\n", path)
	}
	return nil
}

// UndeleteCmd clones the database and re-inserts recovered rows.
type UndeleteCmd struct {
	Path     string `arg:"" help:"Path to the SQLite database file" type:"existingfile"`
	Table    string `arg:"" help:"Table name to recover into the clone"`
	Grouping string `help:"Heuristic grouping to use"`
}

func (c *UndeleteCmd) Run() error {
	cfg, cat, err := loadConfigAndCatalog()
	if err != nil {
		return err
	}

	db, err := sqlrecover.Open(c.Path, cat)
	if err != nil {
		return fmt.Errorf("opening %q: %w", c.Path, err)
	}

	tbl, ok := db.Table(c.Table)
	if !ok {
		return fmt.Errorf("table %q not found in %q", c.Table, c.Path)
	}

	if err := tbl.Recover(c.Grouping); err != nil {
		return fmt.Errorf("recovering %q: %w", c.Table, err)
	}

	clonePath, inserted, err := reinsert.CloneAndInsert(c.Path, cfg.CloneDir, tbl)
	if err != nil {
		return err
	}

	fmt.Printf("recovered %s into %s\n", humanize.Comma(int64(inserted)), clonePath)
	return nil
}

// GrepCmd searches the raw file for a needle.
type GrepCmd struct {
	Path   string `arg:"" help:"Path to the SQLite database file" type:"existingfile"`
	Needle string `arg:"" help:"Text to search for"`
}

func (c *GrepCmd) Run() error {
	_, cat, err := loadConfigAndCatalog()
	if err != nil {
		return err
	}

	db, err := sqlrecover.Open(c.Path, cat)
	if err != nil {
		return fmt.Errorf("opening %q: %w", c.Path, err)
	}

	found := false
	for pgno, off := range db.Grep(c.Needle) {
		found = true
		fmt.Printf("page %d, offset %d\n", pgno, off)
	}
	if !found {
		fmt.Printf("no match for %q in %q\n", c.Needle, c.Path)
	}
	return nil
}

// TablesCmd lists every table the schema learner found.
type TablesCmd struct {
	Path string `arg:"" help:"Path to the SQLite database file" type:"existingfile"`
}

func (c *TablesCmd) Run() error {
	_, cat, err := loadConfigAndCatalog()
	if err != nil {
		return err
	}

	db, err := sqlrecover.Open(c.Path, cat)
	if err != nil {
		return fmt.Errorf("opening %q: %w", c.Path, err)
	}

	var names []string
	for tbl := range db.Tables() {
		names = append(names, tbl.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		tbl, _ := db.Table(name)
		leafCount := 0
		for range tbl.Leaves() {
			leafCount++
		}
		reparented := ""
		if tbl.Reparented() {
			reparented = " (reparented)"
		}
		fmt.Printf("%-24s root=%-6d leaves=%d%s\n", tbl.Name(), tbl.RootPage(), leafCount, reparented)
	}

	if orphans := db.OrphanedPages(); len(orphans) > 0 {
		reasons := db.OrphanReasons()
		fmt.Printf("%s orphaned page(s):\n", humanize.Comma(int64(len(orphans))))
		for _, pgno := range orphans {
			fmt.Printf("  page %d: %s\n", pgno, reasons[pgno])
		}
	}
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("sqlrecover version %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("sqlrecover"),
		kong.Description("Forensic SQLite recovery: read, grep, and undelete rows directly from raw page bytes"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
