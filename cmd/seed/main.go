package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/aniladanir/wa-inbox/internal/config"
	"github.com/aniladanir/wa-inbox/internal/conversation"
	"github.com/aniladanir/wa-inbox/internal/domain"
	"github.com/aniladanir/wa-inbox/internal/ingest"
	"github.com/aniladanir/wa-inbox/internal/persistant/postgresql"
	messageRepo "github.com/aniladanir/wa-inbox/internal/repository/message"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

var (
	configFile = flag.String("config", "config.json", "config file path")
	payloadDir = flag.String("dir", filepath.Join("scripts", "payloads"), "directory of *.json payloads")
	clearStore = flag.Bool("clear", true, "delete stored messages before loading")
)

type summary struct {
	Files    int
	Stored   int
	Skipped  int
	Failed   int
	Messages int64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	cfg, err := config.Read(ctx, *configFile, envconfig.OsLookuper())
	if err != nil {
		log.Fatalf("failed to read config: %v", err)
	}
	if cfg.DbConnString == "" {
		log.Fatalf("db_conn_string (or DATABASE_URL) is required for seeding")
	}

	db, err := postgresql.Initialize(ctx, cfg.DbConnString, logger.With(slog.String("component", "postgres")), &domain.Message{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer postgresql.Close(db)

	repo := messageRepo.NewMessageRepository(db)
	ingestor := ingest.NewIngestor(repo, logger.With(slog.String("component", "ingest")))

	sum, err := seed(ctx, repo, ingestor, *payloadDir, *clearStore, logger)
	if err != nil {
		log.Fatalf("seeding failed: %v", err)
	}

	msgs, err := repo.ListAll(ctx)
	if err != nil {
		log.Fatalf("failed to list messages: %v", err)
	}
	report(os.Stdout, sum, conversation.Aggregate(msgs))
}

// seed ingests every *.json file of dir in name order
func seed(ctx context.Context, repo messageRepo.Repository, ingestor *ingest.Ingestor, dir string, clearFirst bool, logger *slog.Logger) (summary, error) {
	var sum summary

	if clearFirst {
		if err := repo.DeleteAll(ctx); err != nil {
			return sum, fmt.Errorf("failed to clear messages: %w", err)
		}
		logger.Info("cleared existing messages")
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return sum, err
	}
	sort.Strings(files)
	logger.Info("payload files found", "dir", dir, "files", len(files))

	for _, file := range files {
		sum.Files++
		fileLogger := logger.With(slog.String("file", filepath.Base(file)))

		raw, err := os.ReadFile(file)
		if err != nil {
			sum.Failed++
			fileLogger.Error("failed to read payload", "error", err.Error())
			continue
		}

		outcome, err := ingestor.Ingest(ctx, raw)
		if err != nil {
			sum.Failed++
			fileLogger.Error("failed to store payload", "error", err.Error())
			continue
		}
		if !outcome.Changed() {
			sum.Skipped++
			fileLogger.Warn("skipped payload", "outcome", outcome.Kind.String(), "reason", outcome.Reason)
			continue
		}

		sum.Stored++
		fileLogger.Info("payload processed", "outcome", outcome.Kind.String(), "msgId", outcome.Message.MessageID)
	}

	sum.Messages, err = repo.Count(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to count messages: %w", err)
	}
	return sum, nil
}

func report(w io.Writer, sum summary, convs []domain.Conversation) {
	fmt.Fprintln(w, "Loading summary:")
	fmt.Fprintf(w, "  total messages: %d\n", sum.Messages)
	fmt.Fprintf(w, "  conversations:  %d\n", len(convs))
	fmt.Fprintf(w, "  files processed: %d (stored %d, skipped %d, failed %d)\n", sum.Files, sum.Stored, sum.Skipped, sum.Failed)

	if len(convs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nConversations:")
	for i, conv := range convs {
		label := conv.LastMessage.Name
		if label == "" {
			label = conv.WaID
		}
		fmt.Fprintf(w, "%d. %s (%s) - %d messages\n", i+1, label, conv.WaID, conv.Count)
	}
}
