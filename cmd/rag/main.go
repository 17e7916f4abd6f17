// Package main provides the rag CLI: the HTTP server plus one-shot commands
// for ingesting, querying and deleting documents from a terminal.
package main

//go:generate swag init --dir ../../ --generalInfo cmd/rag/main.go --output ../../docs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/config"
	"github.com/tbourn/go-rag-backend/internal/domain"
	httpapi "github.com/tbourn/go-rag-backend/internal/http"
	"github.com/tbourn/go-rag-backend/internal/observability"
	"github.com/tbourn/go-rag-backend/internal/repo"
	"github.com/tbourn/go-rag-backend/internal/sysutil"
	"github.com/tbourn/go-rag-backend/internal/watcher"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg      config.Config
	userFlag string
)

var rootCmd = &cobra.Command{
	Use:           "rag",
	Short:         "Document ingestion and question answering over your own files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Starts the HTTP API on $PORT.

Environment variables (see .env.example for the full list):
  OPENAI_API_KEY   Model provider key (required)
  VECTOR_STORE     qdrant | memory (default: qdrant)
  STORAGE_BACKEND  local | minio (default: local)
  DB_PATH          SQLite file (default: app.db)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Extract, embed and store a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from your documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your documents, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document with its vectors and stored file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest files created or changed in a directory",
	Long: `Watches a directory and ingests every supported file (pdf, docx, txt, md)
that is created or written. A changed file replaces the previous document
with the same name.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "owner of the documents (default $DEFAULT_USER_ID)")
	ingestCmd.Flags().Bool("replace", false, "replace the newest document with the same filename")
	askCmd.Flags().Bool("stream", false, "print the answer as it is generated")
	listCmd.Flags().Int("limit", 50, "maximum number of documents")
	watchCmd.Flags().Bool("initial", true, "ingest files already in the directory")

	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, listCmd, deleteCmd, watchCmd)
}

// @title        go-rag-backend API
// @version      1.0
// @description  Document ingestion and retrieval-augmented question answering.
// @BasePath     /api/v1
func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func currentUser() string {
	return strings.TrimSpace(sysutil.FirstNonEmpty(userFlag, cfg.DefaultUserID))
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireOpenAI(); err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, a.db, a.docs, a.chat, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go purgeIdempotency(ctx, a.db, time.Hour)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).
			Str("vector_store", cfg.Vector.Backend).Str("storage", cfg.Storage.Backend).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown")
	}
	return nil
}

// purgeIdempotency drops expired idempotency records every interval until
// ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired idempotency keys removed")
			}
		}
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireOpenAI(); err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ingest := a.docs.ProcessDocument
	if replace, _ := cmd.Flags().GetBool("replace"); replace {
		ingest = a.docs.ReplaceDocument
	}
	doc, err := ingest(ctx, filepath.Base(path), data, currentUser())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chunks\t%d bytes\n", doc.ID, doc.Filename, doc.ChunkCount, doc.SizeBytes)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireOpenAI(); err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	question := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	if stream, _ := cmd.Flags().GetBool("stream"); !stream {
		answer, err := a.chat.AskQuestion(ctx, question, currentUser(), nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, answer)
		return nil
	}

	seq, err := a.chat.AskQuestionStream(ctx, question, currentUser(), nil)
	if err != nil {
		return err
	}
	for frag, err := range seq {
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		fmt.Fprint(out, frag)
	}
	fmt.Fprintln(out)
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	docs, err := a.docs.ListDocuments(ctx, currentUser(), limit, 0)
	if err != nil {
		return err
	}
	return printDocuments(cmd, docs)
}

func printDocuments(cmd *cobra.Command, docs []domain.Document) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tFORMAT\tCHUNKS\tCREATED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Filename, d.Format, d.ChunkCount, d.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.docs.DeleteDocument(ctx, args[0], currentUser()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireOpenAI(); err != nil {
		return err
	}
	dir := args[0]
	if fi, err := os.Stat(dir); err != nil {
		return err
	} else if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	user := currentUser()
	w := watcher.New(dir, a.docs.Extractors.Formats(), func(ctx context.Context, path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		doc, err := a.docs.ReplaceDocument(ctx, filepath.Base(path), data, user)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Str("document_id", doc.ID).Int("chunks", doc.ChunkCount).Msg("ingested")
		return nil
	})
	w.Initial, _ = cmd.Flags().GetBool("initial")
	return w.Run(ctx)
}
