// Command marginalia serves and manages canonical-text fragments and the
// highlights anchored to them.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/NielsdaWheelz/marginalia/core/canonical"
	"github.com/NielsdaWheelz/marginalia/core/markup"
	"github.com/NielsdaWheelz/marginalia/core/sqlite"
	"github.com/NielsdaWheelz/marginalia/internal/api"
	"github.com/NielsdaWheelz/marginalia/internal/export"
	"github.com/NielsdaWheelz/marginalia/internal/ingest"
	"github.com/NielsdaWheelz/marginalia/internal/logging"
	"github.com/NielsdaWheelz/marginalia/internal/store"
)

const version = "0.1.0"

// CLI defines the command-line interface for marginalia.
var CLI struct {
	LogLevel  string `name:"log-level" default:"info" help:"Log level (debug, info, warn, error)"`
	LogFormat string `name:"log-format" default:"text" help:"Log format (text, json)"`
	DB        string `name:"db" default:"marginalia.db" type:"path" help:"SQLite database path"`

	Serve        ServeCmd        `cmd:"" help:"Start the REST API server"`
	Ingest       IngestCmd       `cmd:"" help:"Ingest a file as a new fragment"`
	Canonicalize CanonicalizeCmd `cmd:"" help:"Print a file's canonical text"`
	Export       ExportCmd       `cmd:"" help:"Export fragments and highlights to a tar.xz archive"`
	Import       ImportCmd       `cmd:"" help:"Import fragments and highlights from an archive"`
	Version      VersionCmd      `cmd:"" help:"Print version information"`
}

// ServeCmd starts the HTTP and WebSocket server.
type ServeCmd struct {
	Port           int      `help:"HTTP server port" default:"8080"`
	AllowedOrigins []string `name:"allowed-origin" help:"CORS allowed origins (repeatable, empty = allow all)"`
	DefaultOwner   string   `name:"default-owner" help:"Owner id assumed when X-Owner-ID is absent"`
}

func (c *ServeCmd) Run() error {
	st, err := store.Open(CLI.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := api.NewServer(api.Config{
		Port:           c.Port,
		DBPath:         CLI.DB,
		AllowedOrigins: c.AllowedOrigins,
		DefaultOwner:   c.DefaultOwner,
	}, st)
	return srv.Start()
}

// IngestCmd stores one file as a fragment.
type IngestCmd struct {
	Path   string `arg:"" type:"existingfile" help:"File to ingest"`
	ID     string `help:"Fragment id (generated when empty)"`
	Format string `help:"Input format (html, markdown, text); inferred from extension when empty"`
}

func (c *IngestCmd) Run() error {
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return err
	}

	format := c.Format
	if format == "" {
		format = inferFormat(c.Path)
	}

	var src []byte
	switch format {
	case "html":
		src, err = ingest.FromHTML(raw)
	case "markdown":
		src, err = ingest.FromMarkdown(raw)
	case "text":
		src, err = ingest.FromPlainText(raw)
	default:
		return fmt.Errorf("unknown format %q (want html, markdown or text)", format)
	}
	if err != nil {
		return err
	}

	st, err := store.Open(CLI.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	frag, err := st.PutFragment(context.Background(), c.ID, src)
	if err != nil {
		return err
	}
	fmt.Printf("ingested %s (%d codepoints, digest %s)\n",
		frag.ID, len([]rune(frag.CanonicalText)), frag.CanonicalDigest[:16])
	return nil
}

// CanonicalizeCmd prints a file's canonical text, for inspecting what
// offsets will anchor to.
type CanonicalizeCmd struct {
	Path string `arg:"" type:"existingfile" help:"Markup file to canonicalize"`
}

func (c *CanonicalizeCmd) Run() error {
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return err
	}
	doc, err := markup.Parse(raw)
	if err != nil {
		return err
	}
	fmt.Println(canonical.Canonicalize(doc))
	return nil
}

// ExportCmd writes the store's contents to an archive.
type ExportCmd struct {
	Out string `arg:"" help:"Archive path to write (tar.xz)"`
}

func (c *ExportCmd) Run() error {
	st, err := store.Open(CLI.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	manifest, err := export.Export(context.Background(), st, c.Out)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d fragments, %d highlights to %s\n",
		manifest.Fragments, manifest.Highlights, c.Out)
	return nil
}

// ImportCmd restores an archive's contents into the store.
type ImportCmd struct {
	Archive string `arg:"" type:"existingfile" help:"Archive path to read"`
}

func (c *ImportCmd) Run() error {
	st, err := store.Open(CLI.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	manifest, err := export.Import(context.Background(), st, c.Archive)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d fragments, %d highlights from %s\n",
		manifest.Fragments, manifest.Highlights, c.Archive)
	return nil
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("marginalia version %s (sqlite driver: %s)\n", version, sqlite.DriverType())
	return nil
}

func inferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "markdown"
	case ".txt":
		return "text"
	default:
		return "html"
	}
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("marginalia"),
		kong.Description("Canonical-text highlights over markup fragments"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	logging.InitLogger(logging.ParseLevel(CLI.LogLevel), logging.ParseFormat(CLI.LogFormat))

	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
