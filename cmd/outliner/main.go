// Command outliner is the CLI for the outliner service.
// It runs the REST API server and provides offline commands for
// ingesting texts, moving bundles, and inspecting documents.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/dorjee-dev/outliner/core/validate"
	"github.com/dorjee-dev/outliner/internal/api"
	"github.com/dorjee-dev/outliner/internal/archive"
	"github.com/dorjee-dev/outliner/internal/formats"
	"github.com/dorjee-dev/outliner/internal/logging"
	"github.com/dorjee-dev/outliner/internal/store"
)

const version = "0.3.0"

// CLI defines the command-line interface for outliner.
var CLI struct {
	// Global flags
	DB        string `help:"SQLite database path" default:"./outliner.db" type:"path"`
	LogLevel  string `help:"Log level" default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log output format" default:"text" enum:"json,text"`

	// Command groups (noun-first organization)
	Serve    ServeCmd      `cmd:"" help:"Start REST API server"`
	Ingest   IngestCmd     `cmd:"" help:"Ingest a text or TEI file into a new document"`
	Bundle   BundleGroup   `cmd:"" help:"Bundle operations (export, import, inspect)"`
	Document DocumentGroup `cmd:"" help:"Document operations (list, show, status, delete, restore)"`
	Validate ValidateGroup `cmd:"" help:"Content validation checks"`
	Version  VersionCmd    `cmd:"" help:"Print version information"`
}

// BundleGroup contains bundle lifecycle operations.
type BundleGroup struct {
	Export  BundleExportCmd  `cmd:"" help:"Export a document to a bundle archive"`
	Import  BundleImportCmd  `cmd:"" help:"Import a bundle archive as a new document"`
	Inspect BundleInspectCmd `cmd:"" help:"Print a bundle's manifest"`
}

// DocumentGroup contains document management operations.
type DocumentGroup struct {
	List     DocumentListCmd     `cmd:"" help:"List documents"`
	Show     DocumentShowCmd     `cmd:"" help:"Show a document and its segments"`
	Status   DocumentStatusCmd   `cmd:"" help:"Set a document's workflow status"`
	Delete   DocumentDeleteCmd   `cmd:"" help:"Soft-delete a document"`
	Restore  DocumentRestoreCmd  `cmd:"" help:"Restore a soft-deleted document"`
	Progress DocumentProgressCmd `cmd:"" help:"Show review progress for a document"`
}

// ValidateGroup contains standalone validation checks.
type ValidateGroup struct {
	Ending ValidateEndingCmd `cmd:"" help:"Check that content ends with a terminal mark"`
	Limits ValidateLimitsCmd `cmd:"" help:"Flag derived segments exceeding a length limit"`
}

func initLogging() {
	level := logging.LevelInfo
	switch CLI.LogLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	format := logging.FormatText
	if CLI.LogFormat == "json" {
		format = logging.FormatJSON
	}
	logging.InitLogger(level, format)
}

func openStore() (*store.Store, error) {
	return store.Open(CLI.DB)
}

// ServeCmd starts the REST API server.
type ServeCmd struct {
	Port           int      `help:"HTTP server port" default:"8000"`
	ExportDir      string   `help:"Directory for exported bundles" default:"./exports" type:"path"`
	APIKey         string   `help:"API key for authentication" env:"OUTLINER_API_KEY"`
	Auth           bool     `help:"Require an API key on every request"`
	TLSCert        string   `help:"Path to TLS certificate file" type:"path"`
	TLSKey         string   `help:"Path to TLS private key file" type:"path"`
	AllowedOrigins []string `help:"CORS allowed origins (empty allows all)"`
	RateLimit      int      `help:"Requests per minute per client (0 disables)" default:"0"`
	RateBurst      int      `help:"Rate limit burst size" default:"10"`
}

func (c *ServeCmd) Run() error {
	initLogging()
	cfg := api.Config{
		Port:              c.Port,
		DBPath:            CLI.DB,
		ExportDir:         c.ExportDir,
		RateLimitRequests: c.RateLimit,
		RateLimitBurst:    c.RateBurst,
		Auth: api.AuthConfig{
			Enabled: c.Auth,
			APIKey:  c.APIKey,
		},
		TLS: api.TLSConfig{
			Enabled:  c.TLSCert != "" || c.TLSKey != "",
			CertFile: c.TLSCert,
			KeyFile:  c.TLSKey,
		},
		AllowedOrigins: c.AllowedOrigins,
	}
	return api.Start(cfg)
}

// IngestCmd ingests a plain-text or TEI file into a new document.
type IngestCmd struct {
	Path string `arg:"" help:"Path to file to ingest" type:"existingfile"`
	User string `help:"Owner user id" default:""`
	Name string `help:"Document filename (defaults to the file's basename)"`
}

func (c *IngestCmd) Run() error {
	initLogging()
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	name := c.Name
	if name == "" {
		name = filepath.Base(c.Path)
	}
	content, err := formats.Ingest(name, data)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.CreateDocument(context.Background(), name, c.User, content)
	if err != nil {
		return err
	}
	fmt.Printf("Created document %s\n", rec.Doc.ID)
	fmt.Printf("  Filename: %s\n", rec.Filename)
	fmt.Printf("  Content:  %d bytes, hash %s\n", len(rec.Doc.Content), rec.Doc.ContentHash)
	return nil
}

// BundleExportCmd exports a document and its annotations to a bundle.
type BundleExportCmd struct {
	ID  string `arg:"" help:"Document id"`
	Out string `help:"Output bundle path (defaults to <id>.tar.xz)" type:"path"`
}

func (c *BundleExportCmd) Run() error {
	initLogging()
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	rec, err := st.GetDocument(ctx, c.ID)
	if err != nil {
		return err
	}
	anns, err := st.LoadAnnotations(ctx, c.ID)
	if err != nil {
		return err
	}

	out := c.Out
	if out == "" {
		out = c.ID + ".tar.xz"
	}
	if err := archive.Export(rec, anns, out); err != nil {
		return err
	}
	fmt.Printf("Exported %s to %s (%d segments, %d annotations)\n",
		c.ID, out, len(rec.Doc.Segments), len(anns))
	return nil
}

// BundleImportCmd imports a bundle archive as a new document.
type BundleImportCmd struct {
	Path string `arg:"" help:"Path to bundle archive" type:"existingfile"`
}

func (c *BundleImportCmd) Run() error {
	initLogging()
	rec, anns, err := archive.Import(c.Path)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.ImportDocument(ctx, rec); err != nil {
		return err
	}
	if len(anns) > 0 {
		if err := st.SaveAnnotations(ctx, rec.Doc.ID, anns); err != nil {
			return err
		}
	}
	fmt.Printf("Imported document %s (%d segments, %d annotations)\n",
		rec.Doc.ID, len(rec.Doc.Segments), len(anns))
	return nil
}

// BundleInspectCmd prints a bundle's manifest without importing it.
type BundleInspectCmd struct {
	Path string `arg:"" help:"Path to bundle archive" type:"existingfile"`
}

func (c *BundleInspectCmd) Run() error {
	data, err := archive.ReadFile(c.Path, archive.ManifestName)
	if err != nil {
		return err
	}
	var manifest archive.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	fmt.Printf("Bundle: %s\n", c.Path)
	fmt.Printf("  Version:      %s\n", manifest.Version)
	fmt.Printf("  Document:     %s\n", manifest.DocumentID)
	fmt.Printf("  Filename:     %s\n", manifest.Filename)
	fmt.Printf("  Status:       %s\n", manifest.Status)
	fmt.Printf("  Content hash: %s\n", manifest.ContentHash)
	fmt.Printf("  Exported at:  %s\n", manifest.ExportedAt)
	return nil
}

// DocumentListCmd lists documents with review counts.
type DocumentListCmd struct {
	User           string `help:"Filter by owner user id"`
	IncludeDeleted bool   `help:"Include soft-deleted documents"`
	JSON           bool   `help:"Output as JSON"`
}

func (c *DocumentListCmd) Run() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	docs, err := st.ListDocuments(context.Background(), c.User, c.IncludeDeleted)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}
	if len(docs) == 0 {
		fmt.Println("No documents found")
		return nil
	}
	fmt.Printf("%-36s  %-10s  %8s  %7s  %s\n", "ID", "STATUS", "SEGMENTS", "CHECKED", "FILENAME")
	for _, d := range docs {
		fmt.Printf("%-36s  %-10s  %8d  %7d  %s\n",
			d.ID, d.Status, d.SegmentCount, d.CheckedCount, d.Filename)
	}
	return nil
}

// DocumentShowCmd prints a document and its segment outline.
type DocumentShowCmd struct {
	ID   string `arg:"" help:"Document id"`
	JSON bool   `help:"Output as JSON"`
}

func (c *DocumentShowCmd) Run() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.GetDocument(context.Background(), c.ID)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	fmt.Printf("Document %s\n", rec.Doc.ID)
	fmt.Printf("  Filename: %s\n", rec.Filename)
	fmt.Printf("  Status:   %s\n", rec.Status)
	fmt.Printf("  Owner:    %s\n", rec.UserID)
	fmt.Printf("  Content:  %d bytes, hash %s\n", len(rec.Doc.Content), rec.Doc.ContentHash)
	fmt.Printf("  Complete: %v\n", rec.Doc.Complete())
	fmt.Printf("  Segments: %d\n", len(rec.Doc.Segments))
	for _, seg := range rec.Doc.Segments {
		title := seg.Title
		if title == "" {
			title = excerpt(rec.Doc.Content[seg.Span.Start:seg.Span.End])
		}
		fmt.Printf("  %3d. [%d,%d) %-9s %s\n",
			seg.Index, seg.Span.Start, seg.Span.End, seg.Status, title)
	}
	return nil
}

// excerpt trims text to a single short line for outline display.
func excerpt(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > 60 {
		return string(runes[:60]) + "..."
	}
	return text
}

// DocumentStatusCmd sets a document's workflow status.
type DocumentStatusCmd struct {
	ID     string `arg:"" help:"Document id"`
	Status string `arg:"" help:"New status" enum:"active,completed,deleted,approved,rejected"`
}

func (c *DocumentStatusCmd) Run() error {
	initLogging()
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetDocumentStatus(context.Background(), c.ID, store.DocStatus(c.Status)); err != nil {
		return err
	}
	fmt.Printf("Document %s is now %s\n", c.ID, c.Status)
	return nil
}

// DocumentDeleteCmd soft-deletes a document.
type DocumentDeleteCmd struct {
	ID   string `arg:"" help:"Document id"`
	Hard bool   `help:"Permanently delete the document and its segment rows"`
}

func (c *DocumentDeleteCmd) Run() error {
	initLogging()
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if c.Hard {
		if err := st.HardDelete(ctx, c.ID); err != nil {
			return err
		}
		fmt.Printf("Permanently deleted document %s\n", c.ID)
		return nil
	}
	if err := st.SoftDelete(ctx, c.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted document %s (restorable)\n", c.ID)
	return nil
}

// DocumentRestoreCmd restores a soft-deleted document.
type DocumentRestoreCmd struct {
	ID   string `arg:"" help:"Document id"`
	User string `required:"" help:"Requesting user id (must be the owner)"`
}

func (c *DocumentRestoreCmd) Run() error {
	initLogging()
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Restore(context.Background(), c.ID, c.User); err != nil {
		return err
	}
	fmt.Printf("Restored document %s\n", c.ID)
	return nil
}

// DocumentProgressCmd prints review progress counts.
type DocumentProgressCmd struct {
	ID string `arg:"" help:"Document id"`
}

func (c *DocumentProgressCmd) Run() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.GetDocument(context.Background(), c.ID)
	if err != nil {
		return err
	}
	p := rec.Doc.Progress()
	fmt.Printf("Document %s\n", c.ID)
	fmt.Printf("  Total:     %d\n", p.Total)
	fmt.Printf("  Checked:   %d\n", p.Checked)
	fmt.Printf("  Annotated: %d\n", p.Annotated)
	fmt.Printf("  Unchecked: %d\n", p.Unchecked)
	fmt.Printf("  Percent:   %.1f%%\n", p.Percentage)
	return nil
}

// ValidateEndingCmd checks that a file's content ends with a terminal mark.
type ValidateEndingCmd struct {
	Path     string `arg:"" help:"Path to text file" type:"existingfile"`
	Language string `help:"Language tag" default:"bo"`
}

func (c *ValidateEndingCmd) Run() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	result := validate.ValidateEnding(c.Language, formats.NormalizeText(string(data)))
	if result.Valid {
		fmt.Printf("OK: content ends with a terminal mark for %q\n", result.Language)
		return nil
	}
	fmt.Printf("INVALID: content must end with one of %v\n", result.Expected)
	os.Exit(1)
	return nil
}

// ValidateLimitsCmd flags derived segments exceeding a length limit.
type ValidateLimitsCmd struct {
	Path  string `arg:"" help:"Path to text file" type:"existingfile"`
	Limit int    `arg:"" help:"Maximum segment length in characters"`
}

func (c *ValidateLimitsCmd) Run() error {
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", c.Limit)
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	result := validate.ValidateSegmentLimits(formats.NormalizeText(string(data)), c.Limit)
	if result.InvalidCount == 0 {
		fmt.Printf("OK: all segments within %d characters\n", c.Limit)
		return nil
	}
	fmt.Printf("INVALID: %d segment(s) exceed %d characters\n", result.InvalidCount, c.Limit)
	for _, v := range result.InvalidSegments {
		fmt.Printf("  segment %d: %d characters\n", v.Index, v.Length)
	}
	os.Exit(1)
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("outliner version %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("outliner"),
		kong.Description("Outliner - document segmentation and annotation service"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
