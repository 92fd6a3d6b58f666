// Command editor drives one document editing session from a terminal.
//
// It reads one command per line on stdin:
//
//	set <html>             replace the content
//	append <html>          append a block
//	title <text>           edit the title
//	blur                   commit the title now
//	templates              list templates
//	template <id> [ctx]    apply a template
//	suggest [ctx]          regenerate suggestions
//	accept <id>            accept a suggestion
//	reject <id>            reject a suggestion
//	export <format>        queue an export
//	export-now <format>    export synchronously
//	download <taskId>      save a ready export
//	versions               reload version history
//	restore <versionId>    restore a version
//	presence <status>      announce editing, reviewing or viewing
//	retry                  retry a failed save
//	state                  print the session state
//	quit                   close the session
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"chronicle/editor/internal/apiclient"
	"chronicle/editor/internal/editor"
	"chronicle/editor/internal/presence"
)

type options struct {
	apiURL        string
	token         string
	documentID    string
	redisURL      string
	downloadDir   string
	autosaveDelay time.Duration
	exportPoll    time.Duration
	presencePoll  time.Duration
	presenceTTL   time.Duration
	context       string
	verbose       bool
}

func main() {
	_ = godotenv.Load()

	var opts options
	pflag.StringVar(&opts.apiURL, "api", envOr("CHRONICLE_API_URL", "http://localhost:8787"), "API base URL")
	pflag.StringVar(&opts.token, "token", os.Getenv("CHRONICLE_TOKEN"), "bearer token")
	pflag.StringVar(&opts.documentID, "doc", "", "document id")
	pflag.StringVar(&opts.redisURL, "redis", os.Getenv("REDIS_URL"), "Redis URL for pushed presence; polling when empty or unreachable")
	pflag.StringVar(&opts.downloadDir, "download-dir", ".", "directory for downloaded exports")
	pflag.DurationVar(&opts.autosaveDelay, "autosave-delay", 1500*time.Millisecond, "quiet period before autosave")
	pflag.DurationVar(&opts.exportPoll, "export-poll", 2*time.Second, "export status poll interval")
	pflag.DurationVar(&opts.presencePoll, "presence-poll", 5*time.Second, "presence poll interval")
	pflag.DurationVar(&opts.presenceTTL, "presence-ttl", 30*time.Second, "presence entry lifetime")
	pflag.StringVar(&opts.context, "context", "", "context for the initial suggestion refresh")
	pflag.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if opts.documentID == "" || opts.token == "" {
		fmt.Fprintln(os.Stderr, "editor: --doc and --token are required")
		pflag.Usage()
		os.Exit(2)
	}

	if err := run(opts, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("editor stopped", "error", err)
		os.Exit(1)
	}
}

func run(opts options, in io.Reader, out io.Writer, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := apiclient.New(apiclient.Config{
		BaseURL: opts.apiURL,
		Token:   opts.token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var push presence.Subscriber
	if opts.redisURL != "" {
		redisStore, err := presence.NewRedisStore(opts.redisURL, opts.presenceTTL)
		if err != nil {
			logger.Warn("redis unavailable, presence will poll", "error", err)
		} else {
			defer redisStore.Close()
			push = presence.NewPubSub(redisStore, logger)
		}
	}
	poller := presence.NewPoller(client, presence.PollerOptions{Interval: opts.presencePoll, Logger: logger})

	var printMu sync.Mutex
	printf := func(format string, args ...any) {
		printMu.Lock()
		defer printMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	var lastSave editor.SaveState
	ed, err := editor.Open(ctx, opts.documentID, editor.Collaborators{
		Documents:   client,
		Templates:   client,
		Suggestions: client,
		Exports:     client,
		Versions:    client,
		Presence:    presence.NewAuto(push, poller, logger),
	}, editor.Options{
		AutosaveDelay:      opts.autosaveDelay,
		ExportPollInterval: opts.exportPoll,
		SuggestionContext:  opts.context,
		Logger:             logger,
		OnChange: func(s editor.State) {
			if s.SaveState != lastSave {
				lastSave = s.SaveState
				printf("save: %s\n", s.SaveState)
			}
		},
	})
	if err != nil {
		return err
	}

	status := presence.StatusEditing
	var statusMu sync.Mutex
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		heartbeat(heartbeatCtx, client, opts, logger, func() presence.Status {
			statusMu.Lock()
			defer statusMu.Unlock()
			return status
		})
	}()

	defer func() {
		stopHeartbeat()
		wg.Wait()
		ed.Close()
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Leave(leaveCtx, opts.documentID); err != nil {
			logger.Debug("presence leave failed", "error", err)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64<<10), 4<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		cmd, arg := splitCommand(line)
		if cmd == "" {
			continue
		}
		if cmd == "quit" || cmd == "exit" {
			return nil
		}
		if cmd == "presence" {
			next := presence.Status(arg)
			if !next.Valid() {
				printf("error: status must be editing, reviewing or viewing\n")
				continue
			}
			statusMu.Lock()
			status = next
			statusMu.Unlock()
			if err := client.Heartbeat(ctx, opts.documentID, next); err != nil {
				printf("error: %v\n", err)
			}
			continue
		}
		if err := dispatch(ctx, ed, opts, cmd, arg, printf); err != nil {
			printf("error: %s\n", describe(cmd, err))
		}
	}
}

func dispatch(ctx context.Context, ed *editor.Editor, opts options, cmd, arg string, printf func(string, ...any)) error {
	switch cmd {
	case "set":
		return ed.SetContent(arg)
	case "append":
		return ed.AppendBlock(arg)
	case "title":
		return ed.SetTitle(arg)
	case "blur":
		return ed.CommitTitle(ctx)
	case "retry":
		return ed.RetrySave(ctx)
	case "templates":
		list, err := ed.Templates(ctx)
		if err != nil {
			return err
		}
		for _, t := range list {
			printf("%s\t%s\t%s\n", t.ID, t.Name, t.Description)
		}
	case "template":
		id, rest, _ := strings.Cut(arg, " ")
		rest = strings.TrimSpace(rest)
		if id == "" {
			return errors.New("usage: template <id> [context]")
		}
		return ed.UseTemplate(ctx, id, editor.ApplyTemplateInput{Context: rest})
	case "suggest":
		if err := ed.RegenerateSuggestions(ctx, arg); err != nil {
			return err
		}
		for _, s := range ed.State().Suggestions {
			printf("%s\t%s\n", s.ID, s.Title)
		}
	case "accept":
		return ed.AcceptSuggestion(ctx, arg)
	case "reject":
		return ed.RejectSuggestion(ctx, arg)
	case "export":
		job, err := ed.QueueExport(ctx, editor.ExportRequest{Format: arg})
		if err != nil {
			return err
		}
		printf("export %s %s\n", job.TaskID, job.Status)
	case "export-now":
		url, err := ed.ExportNow(ctx, editor.ExportRequest{Format: arg})
		if err != nil {
			return err
		}
		printf("export ready: %s\n", url)
	case "download":
		path, err := ed.DownloadExport(ctx, arg, opts.downloadDir)
		if err != nil {
			return err
		}
		printf("saved %s\n", path)
	case "versions":
		if err := ed.RefreshVersions(ctx); err != nil {
			return err
		}
		for _, v := range ed.State().Versions {
			printf("%s\t%s\t%s\n", v.ID, v.CreatedAt.Format(time.RFC3339), v.Label)
		}
	case "restore":
		return ed.RestoreVersion(ctx, arg)
	case "state":
		return printState(ed.State(), printf)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func heartbeat(ctx context.Context, client *apiclient.Client, opts options, logger *slog.Logger, current func() presence.Status) {
	interval := opts.presenceTTL / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := client.Heartbeat(ctx, opts.documentID, current()); err != nil && ctx.Err() == nil {
			logger.Debug("presence heartbeat failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type stateView struct {
	Title         string                  `json:"title"`
	Dirty         bool                    `json:"dirty"`
	SaveState     editor.SaveState        `json:"saveState"`
	SaveError     string                  `json:"saveError,omitempty"`
	Suggestions   int                     `json:"suggestions"`
	Exports       []editor.ExportJob      `json:"exports"`
	Versions      int                     `json:"versions"`
	Collaborators []presence.Collaborator `json:"collaborators"`
	Content       string                  `json:"content"`
}

func printState(s editor.State, printf func(string, ...any)) error {
	view := stateView{
		Title:         s.Title,
		Dirty:         s.Dirty,
		SaveState:     s.SaveState,
		Suggestions:   len(s.Suggestions),
		Exports:       s.Exports,
		Versions:      len(s.Versions),
		Collaborators: s.Collaborators,
		Content:       s.Content,
	}
	if s.SaveError != nil {
		view.SaveError = s.SaveError.Error()
	}
	raw, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	printf("%s\n", raw)
	return nil
}

// describe prefers the upgrade prompt of an entitlement denial over the
// raw transport error.
func describe(cmd string, err error) string {
	if !strings.HasPrefix(cmd, "export") {
		return err.Error()
	}
	failure := editor.ClassifyExportError(err)
	if failure.Kind == editor.ExportFailureEntitlement {
		msg := failure.Message
		if failure.CTAURL != "" {
			msg += " " + failure.CTAURL
		}
		return msg
	}
	return err.Error()
}

func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
