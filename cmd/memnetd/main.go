// Command memnetd is a thin CLI over the memory lifecycle engine: it
// wires config, embedder, LLM, and vector-store backends from
// config.Load and exposes add/search/get/update/delete/deleteall/list
// as subcommands, each reading its payload from a flag or STDIN.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"memnet/internal/config"
	"memnet/internal/embedder"
	"memnet/internal/llm"
	"memnet/internal/memory"
	"memnet/internal/memvec"
	"memnet/internal/observability"
	"memnet/internal/vectorstore"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var configPath string
	fs := flag.NewFlagSet("memnetd", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "path to a MemNet YAML config file")
	cmd := os.Args[1]
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DuplicateThreshold == 0 {
		log.Fatal("duplicateThreshold is not set; set it in the config file or MEMNET_DUPLICATE_THRESHOLD")
	}
	observability.InitLogger(cfg.Observability.LogPath, cfg.Observability.LogLevel)

	ctx := context.Background()
	svc, err := buildService(ctx, cfg)
	if err != nil {
		log.Fatalf("build service: %v", err)
	}
	if err := svc.Initialize(ctx, false); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	switch cmd {
	case "add":
		runAdd(ctx, svc, os.Args[2:])
	case "search":
		runSearch(ctx, svc, os.Args[2:])
	case "get":
		runGet(ctx, svc, os.Args[2:])
	case "update":
		runUpdate(ctx, svc, os.Args[2:])
	case "delete":
		runDelete(ctx, svc, os.Args[2:])
	case "deleteall":
		runDeleteAll(ctx, svc, os.Args[2:])
	case "list":
		runList(ctx, svc, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: memnetd <add|search|get|update|delete|deleteall|list> [flags]")
}

// buildService constructs the three collaborators from cfg and wires them
// into a memory.Service, mirroring the teacher's pattern of assembling
// production clients once at process start rather than lazily.
func buildService(ctx context.Context, cfg config.Options) (*memory.Service, error) {
	emb, err := buildEmbedder(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}
	provider, err := llm.Build(cfg.LLM, &http.Client{Timeout: 60 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}
	store, err := buildStore(ctx, cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("build vector store: %w", err)
	}
	return memory.New(emb, provider, store, cfg), nil
}

func buildEmbedder(cfg config.EmbedderConfig) (embedder.Embedder, error) {
	switch cfg.Provider {
	case "deterministic":
		return embedder.NewDeterministic(256, true, 0), nil
	case "openai", "":
		return embedder.NewHTTPClient(cfg, &http.Client{Timeout: 30 * time.Second}), nil
	default:
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("unsupported embedder provider %q", cfg.Provider)}
	}
}

func buildStore(ctx context.Context, cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	switch cfg.Provider {
	case "memory", "":
		return vectorstore.NewMemory(), nil
	case "qdrant":
		return vectorstore.NewQdrant(cfg.Endpoint, cfg.CollectionName)
	case "redis":
		return vectorstore.NewRedis(cfg.Endpoint, cfg.APIKey, cfg.CollectionName), nil
	case "postgres":
		dsn := cfg.Endpoint
		if cfg.APIKey != "" {
			dsn = withPassword(dsn, cfg.APIKey)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return vectorstore.NewPostgres(pool, cfg.CollectionName), nil
	default:
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("unsupported vectorStore provider %q", cfg.Provider)}
	}
}

// withPassword injects apiKey as the password component of a postgres DSN
// when the endpoint doesn't already carry user credentials.
func withPassword(dsn, apiKey string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User != nil {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), apiKey)
	return u.String()
}

func runAdd(ctx context.Context, svc *memory.Service, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	userID := fs.String("user", "", "user id")
	agentID := fs.String("agent", "", "agent id")
	runID := fs.String("run", "", "run id")
	role := fs.String("role", "user", "message role for -text")
	text := fs.String("text", "", "single message content (use -stdin for a full transcript)")
	useStdin := fs.Bool("stdin", false, "read a JSON []memvec.Message transcript from STDIN")
	_ = fs.Parse(args)

	var messages []memvec.Message
	if *useStdin {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("read stdin: %v", err)
		}
		if err := json.Unmarshal(raw, &messages); err != nil {
			log.Fatalf("parse stdin transcript: %v", err)
		}
	} else {
		if strings.TrimSpace(*text) == "" {
			log.Fatal("no input; use -text or -stdin")
		}
		messages = []memvec.Message{{Role: *role, Content: *text}}
	}

	resp, err := svc.Add(ctx, memvec.AddMemoryRequest{Messages: messages, UserID: *userID, AgentID: *agentID, RunID: *runID})
	if err != nil {
		log.Fatalf("add: %v", err)
	}
	printJSON(resp)
}

func runSearch(ctx context.Context, svc *memory.Service, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	userID := fs.String("user", "", "user id")
	query := fs.String("query", "", "search query")
	limit := fs.Int("limit", 0, "max results")
	_ = fs.Parse(args)

	if strings.TrimSpace(*query) == "" {
		log.Fatal("no -query provided")
	}
	results, err := svc.Search(ctx, memvec.SearchMemoryRequest{Query: *query, UserID: *userID, Limit: *limit})
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	printJSON(results)
}

func runGet(ctx context.Context, svc *memory.Service, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	id := fs.String("id", "", "memory id")
	_ = fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		log.Fatal("no -id provided")
	}
	item, err := svc.Get(ctx, *id)
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	if item == nil {
		log.Fatalf("not found: %s", *id)
	}
	printJSON(item)
}

func runUpdate(ctx context.Context, svc *memory.Service, args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	id := fs.String("id", "", "memory id")
	text := fs.String("text", "", "new content")
	_ = fs.Parse(args)

	if strings.TrimSpace(*id) == "" || strings.TrimSpace(*text) == "" {
		log.Fatal("both -id and -text are required")
	}
	ok, err := svc.Update(ctx, *id, *text)
	if err != nil {
		log.Fatalf("update: %v", err)
	}
	if !ok {
		log.Fatalf("not found: %s", *id)
	}
	fmt.Println("ok")
}

func runDelete(ctx context.Context, svc *memory.Service, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "memory id")
	_ = fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		log.Fatal("no -id provided")
	}
	if err := svc.Delete(ctx, *id); err != nil {
		log.Fatalf("delete: %v", err)
	}
	fmt.Println("ok")
}

func runDeleteAll(ctx context.Context, svc *memory.Service, args []string) {
	fs := flag.NewFlagSet("deleteall", flag.ExitOnError)
	userID := fs.String("user", "", "user id")
	_ = fs.Parse(args)

	if strings.TrimSpace(*userID) == "" {
		log.Fatal("no -user provided")
	}
	if err := svc.DeleteAll(ctx, *userID); err != nil {
		log.Fatalf("deleteall: %v", err)
	}
	fmt.Println("ok")
}

func runList(ctx context.Context, svc *memory.Service, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	userID := fs.String("user", "", "user id")
	limit := fs.Int("limit", 0, "max results")
	_ = fs.Parse(args)

	items, err := svc.GetAll(ctx, *userID, *limit)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	printJSON(items)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}
