package steward

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/sandbox"
	"github.com/m-mizutani/steward/vectorstore"
)

// Names of the built-in tools. Agent definitions declare them; the executor
// resolves declared names against the catalog built from the configured
// collaborators.
const (
	ToolNameArchiveSearch = "archive_search"
	ToolNameArchiveIngest = "archive_ingest"
	ToolNameArchiveStatus = "archive_status"
	ToolNameArchiveForget = "archive_forget"
	ToolNameRunCode       = "run_code"
)

// BuildToolCatalog assembles the built-in tools from the configured
// collaborators. A nil collaborator leaves its tools out of the catalog, so
// agents declaring them simply run without tool support.
func BuildToolCatalog(store vectorstore.Store, embedder Embedder, runner sandbox.Runner) []Tool {
	var tools []Tool
	if store != nil && embedder != nil {
		tools = append(tools,
			NewArchiveSearchTool(store, embedder),
			NewArchiveIngestTool(store, embedder),
		)
	}
	if store != nil {
		tools = append(tools,
			NewArchiveStatusTool(store),
			NewArchiveForgetTool(store),
		)
	}
	if runner != nil {
		tools = append(tools, NewRunCodeTool(runner))
	}
	return tools
}

// Argument structs of the built-in tools. Each tool's parameter schema is
// derived from the struct tags at init, so the declared arguments and the
// decoded arguments cannot drift apart.
type archiveSearchArgs struct {
	Query  string `json:"query" description:"What to look for" required:"true"`
	Source string `json:"source" description:"Restrict the search to documents from one source tag"`
}

type archiveIngestArgs struct {
	Text   string `json:"text" description:"Document text to archive" required:"true"`
	Source string `json:"source" description:"Source tag the document belongs to" required:"true"`
}

type archiveStatusArgs struct{}

type archiveForgetArgs struct {
	Source string `json:"source" description:"Source tag to delete" required:"true"`
}

type runCodeArgs struct {
	Code string `json:"code" description:"Source code to execute" required:"true"`
}

var (
	archiveSearchSchema = MustToSchema(archiveSearchArgs{})
	archiveIngestSchema = MustToSchema(archiveIngestArgs{})
	archiveStatusSchema = MustToSchema(archiveStatusArgs{})
	archiveForgetSchema = MustToSchema(archiveForgetArgs{})
	runCodeSchema       = MustToSchema(runCodeArgs{})
)

// ArchiveSearchTool retrieves archived documents similar to a query.
type ArchiveSearchTool struct {
	store    vectorstore.Store
	embedder Embedder
	topK     int
}

// NewArchiveSearchTool creates the archive search tool.
func NewArchiveSearchTool(store vectorstore.Store, embedder Embedder) *ArchiveSearchTool {
	return &ArchiveSearchTool{
		store:    store,
		embedder: embedder,
		topK:     5,
	}
}

func (t *ArchiveSearchTool) Spec() *ToolSpec {
	return &ToolSpec{
		Name:        ToolNameArchiveSearch,
		Description: "Search the local document archive by semantic similarity and return the best matching passages",
		Parameters:  archiveSearchSchema.Properties,
		Required:    archiveSearchSchema.Required,
	}
}

func (t *ArchiveSearchTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, goerr.Wrap(ErrInvalidParameter, "query must be a non-empty string")
	}
	source, _ := args["source"].(string)

	vectors, err := t.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed archive query")
	}
	if len(vectors) == 0 {
		return nil, goerr.New("embedder returned no vector for archive query")
	}

	matches, err := t.store.Query(ctx, vectors[0], t.topK, source)
	if err != nil {
		return nil, goerr.Wrap(err, "archive query failed")
	}

	results := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		// Reflexion lessons share the store but are not archive content.
		if m.Document.Source == reflexionSource {
			continue
		}
		results = append(results, map[string]any{
			"text":   m.Document.Text,
			"source": m.Document.Source,
			"score":  m.Score,
		})
	}

	return map[string]any{"results": results}, nil
}

// ArchiveIngestTool embeds a text and stores it in the archive. Ingestion is
// idempotent: re-ingesting the same source/text pair rewrites the same
// document.
type ArchiveIngestTool struct {
	store    vectorstore.Store
	embedder Embedder
}

// NewArchiveIngestTool creates the archive ingestion tool.
func NewArchiveIngestTool(store vectorstore.Store, embedder Embedder) *ArchiveIngestTool {
	return &ArchiveIngestTool{
		store:    store,
		embedder: embedder,
	}
}

func (t *ArchiveIngestTool) Spec() *ToolSpec {
	return &ToolSpec{
		Name:        ToolNameArchiveIngest,
		Description: "Store a text in the local document archive under a source tag",
		Parameters:  archiveIngestSchema.Properties,
		Required:    archiveIngestSchema.Required,
	}
}

func (t *ArchiveIngestTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	text, ok := args["text"].(string)
	if !ok || text == "" {
		return nil, goerr.Wrap(ErrInvalidParameter, "text must be a non-empty string")
	}
	source, ok := args["source"].(string)
	if !ok || source == "" {
		return nil, goerr.Wrap(ErrInvalidParameter, "source must be a non-empty string")
	}
	if source == reflexionSource {
		return nil, goerr.Wrap(ErrInvalidParameter, "source tag is reserved", goerr.V("source", source))
	}

	vectors, err := t.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed document")
	}
	if len(vectors) == 0 {
		return nil, goerr.New("embedder returned no vector for document")
	}

	doc := &vectorstore.Document{
		Source:    source,
		Text:      text,
		Embedding: vectors[0],
	}
	if err := t.store.Upsert(ctx, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to archive document")
	}

	return map[string]any{"id": doc.ID, "source": source}, nil
}

// ArchiveStatusTool summarizes the archive contents per source.
type ArchiveStatusTool struct {
	store vectorstore.Store
}

// NewArchiveStatusTool creates the archive status tool.
func NewArchiveStatusTool(store vectorstore.Store) *ArchiveStatusTool {
	return &ArchiveStatusTool{store: store}
}

func (t *ArchiveStatusTool) Spec() *ToolSpec {
	return &ToolSpec{
		Name:        ToolNameArchiveStatus,
		Description: "List the sources stored in the document archive with their document counts",
		Parameters:  archiveStatusSchema.Properties,
	}
}

func (t *ArchiveStatusTool) Run(ctx context.Context, _ map[string]any) (map[string]any, error) {
	summaries, err := t.store.ListSources(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list archive sources")
	}

	sources := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		if s.Source == reflexionSource {
			continue
		}
		sources = append(sources, map[string]any{
			"source": s.Source,
			"count":  s.Count,
		})
	}

	return map[string]any{"sources": sources}, nil
}

// ArchiveForgetTool removes every document of one source from the archive.
type ArchiveForgetTool struct {
	store vectorstore.Store
}

// NewArchiveForgetTool creates the archive deletion tool.
func NewArchiveForgetTool(store vectorstore.Store) *ArchiveForgetTool {
	return &ArchiveForgetTool{store: store}
}

func (t *ArchiveForgetTool) Spec() *ToolSpec {
	return &ToolSpec{
		Name:        ToolNameArchiveForget,
		Description: "Delete all archived documents belonging to one source tag",
		Parameters:  archiveForgetSchema.Properties,
		Required:    archiveForgetSchema.Required,
	}
}

func (t *ArchiveForgetTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	source, ok := args["source"].(string)
	if !ok || source == "" {
		return nil, goerr.Wrap(ErrInvalidParameter, "source must be a non-empty string")
	}
	if source == reflexionSource {
		return nil, goerr.Wrap(ErrInvalidParameter, "reflexion memory cannot be deleted through the archive", goerr.V("source", source))
	}

	if err := t.store.DeleteBySource(ctx, source); err != nil {
		return nil, goerr.Wrap(err, "failed to delete archive source", goerr.V("source", source))
	}

	return map[string]any{"deleted": source}, nil
}

// RunCodeTool executes source code in the sandbox and returns the captured
// output. Each invocation starts from a clean capture.
type RunCodeTool struct {
	runner sandbox.Runner
}

// NewRunCodeTool creates the code execution tool.
func NewRunCodeTool(runner sandbox.Runner) *RunCodeTool {
	return &RunCodeTool{runner: runner}
}

func (t *RunCodeTool) Spec() *ToolSpec {
	return &ToolSpec{
		Name:        ToolNameRunCode,
		Description: "Execute source code in the sandboxed runtime and return captured stdout and stderr",
		Parameters:  runCodeSchema.Properties,
		Required:    runCodeSchema.Required,
	}
}

func (t *RunCodeTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	code, ok := args["code"].(string)
	if !ok || code == "" {
		return nil, goerr.Wrap(ErrInvalidParameter, "code must be a non-empty string")
	}

	result, err := t.runner.Execute(ctx, code)
	if err != nil {
		return nil, goerr.Wrap(err, "code execution failed")
	}

	out := map[string]any{"stdout": result.Stdout}
	if result.Stderr != "" {
		out["stderr"] = result.Stderr
	}
	return out, nil
}
