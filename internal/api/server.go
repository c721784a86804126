package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-commonbase/commonbase/internal/ai"
	"github.com/your-commonbase/commonbase/internal/entry"
	"github.com/your-commonbase/commonbase/internal/graph"
	"github.com/your-commonbase/commonbase/internal/ingest"
	"github.com/your-commonbase/commonbase/internal/search"
)

// EntryStore is the store surface the handlers use.
type EntryStore interface {
	Create(ctx context.Context, data string, md entry.Metadata, id uuid.UUID) (*entry.Entry, error)
	Get(ctx context.Context, id uuid.UUID) (*entry.Entry, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*entry.Entry, error)
	List(ctx context.Context, limit, offset int) ([]*entry.Entry, error)
	Random(ctx context.Context, count int, exclude []uuid.UUID) ([]*entry.Entry, error)
	SetData(ctx context.Context, id uuid.UUID, data string) error
	MutateMetadata(ctx context.Context, id uuid.UUID, fn func(md *entry.Metadata) error) (*entry.Entry, error)
	DeleteMany(ctx context.Context, ids []uuid.UUID) (int, error)
	UpsertEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	GetManyEmbedded(ctx context.Context, ids []uuid.UUID) ([]*entry.Embedded, error)
}

// Linker is the link maintenance surface the handlers use.
type Linker interface {
	Join(ctx context.Context, id uuid.UUID, linkIDs []uuid.UUID) error
	BacklinkParent(ctx context.Context, parentID, childID uuid.UUID)
	DeleteCascade(ctx context.Context, id uuid.UUID) (*entry.Entry, error)
}

// Searcher runs hybrid search requests.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]*search.Result, error)
}

// GraphEngine builds similarity graphs.
type GraphEngine interface {
	Similarities(ctx context.Context, id uuid.UUID) (*graph.Graph, error)
}

// BulkRunner runs bulk CSV ingestion.
type BulkRunner interface {
	Run(ctx context.Context, r io.Reader, opts ingest.Options) (*ingest.Report, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Store       EntryStore     // Required
	Linker      Linker         // Required
	Searcher    Searcher       // Required
	Graph       GraphEngine    // Required
	Bulk        BulkRunner     // Optional: nil disables bulk upload
	Embedder    ai.Embedder    // Optional: nil disables embedding generation
	Synthesizer ai.Synthesizer // Optional: nil disables /synthesize
	Transcriber ai.Transcriber // Optional: nil disables /add/image
	Pool        *pgxpool.Pool  // Optional: nil disables pool stats in /ready
	CORSOrigins []string       // Allowed origins for CORS
	TrustProxy  bool           // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int            // Rate limiter burst size per IP (0 = default 60)
	AssetsDir   string         // Root for uploaded images and seed datasets
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("entry store is required")
	}
	if cfg.Linker == nil {
		return nil, errors.New("linker is required")
	}
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if cfg.Graph == nil {
		return nil, errors.New("graph engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eh := &entryHandler{
		store:       cfg.Store,
		linker:      cfg.Linker,
		embedder:    cfg.Embedder,
		transcriber: cfg.Transcriber,
		assetsDir:   cfg.AssetsDir,
		logger:      logger,
	}
	sh := &searchHandler{engine: cfg.Searcher, logger: logger}
	gh := &graphHandler{engine: cfg.Graph, store: cfg.Store, logger: logger}
	bh := &bulkHandler{
		runner:    cfg.Bulk,
		store:     cfg.Store,
		assetsDir: cfg.AssetsDir,
		logger:    logger,
	}
	syh := &synthesizeHandler{
		store:       cfg.Store,
		linker:      cfg.Linker,
		synthesizer: cfg.Synthesizer,
		embedder:    cfg.Embedder,
		logger:      logger,
	}
	th := newTitleHandler(logger)

	mux := http.NewServeMux()

	// Entry CRUD and link maintenance
	mux.HandleFunc("GET /api/v1/entries/{id}", eh.getEntry)
	mux.HandleFunc("GET /api/v1/entries", eh.listEntries)
	mux.HandleFunc("POST /api/v1/random", eh.randomEntries)
	mux.HandleFunc("POST /api/v1/add", eh.addEntry)
	mux.HandleFunc("POST /api/v1/add/image", eh.addImage)
	mux.HandleFunc("POST /api/v1/update", eh.updateEntry)
	mux.HandleFunc("POST /api/v1/delete", eh.deleteEntry)
	mux.HandleFunc("POST /api/v1/join", eh.joinEntries)

	// Search and graph
	mux.HandleFunc("POST /api/v1/search", sh.search)
	mux.HandleFunc("POST /api/v1/similarities", gh.similarities)
	mux.HandleFunc("POST /api/v1/embeddings", gh.embeddings)

	// Bulk ingestion
	mux.HandleFunc("POST /api/v1/bulk/upload", bh.upload)
	mux.HandleFunc("POST /api/v1/bulk/delete", bh.deleteDataset)

	// AI
	mux.HandleFunc("POST /api/v1/synthesize", syh.synthesize)
	mux.HandleFunc("POST /api/v1/fetch-url-title", th.fetchTitle)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
