package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/applyd/internal/config"
	"github.com/kalambet/applyd/internal/mail"
	"github.com/kalambet/applyd/internal/pipeline"
	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/retrieval"
	"github.com/kalambet/applyd/internal/storage"
)

// loadApp loads config, sets up logging and wires the in-process graph.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)
	return openApp(ctx, cfg, os.Stderr)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func ragTypeFlag(cmd *cobra.Command, cfg config.Config) int {
	if t, _ := cmd.Flags().GetInt("rag-type"); t != 0 {
		return t
	}
	return cfg.Retrieval.RAGType
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively as an applicant",
	Long: `Chat interactively as an applicant. Each line you type is one recruiter
message. Type "reset" to clear the conversation window, "exit" or "quit"
(or send EOF) to stop.

Examples:
  applyd chat --index 1
  applyd chat --index 1 --rag-type 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, _ := cmd.Flags().GetInt("index")
		if idx < 1 {
			return fmt.Errorf("--index is required")
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.factory.Session(idx, ragTypeFlag(cmd, a.cfg))
		if err != nil {
			return err
		}
		printStep("Chatting as profile %d (session %s)", idx, s.ID)
		return chatLoop(ctx, os.Stdin, os.Stdout, s.Turn, s.Reset)
	},
}

func init() {
	chatCmd.Flags().Int("index", 0, "profile index to answer as")
	chatCmd.Flags().Int("rag-type", 0, "retrieval strategy: 1 direct, 2 skill back-reference (default from config)")
}

type turnFunc func(ctx context.Context, message string) (pipeline.TurnResult, error)

// chatLoop reads one message per line from in and writes each reply to out.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, turn turnFunc, reset func()) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, colorize(colorBold, "> "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		msg := strings.TrimSpace(sc.Text())
		switch strings.ToLower(msg) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "reset":
			reset()
			fmt.Fprintln(out, "(conversation cleared)")
			continue
		}

		res, err := turn(ctx, msg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n\n", res.Reply)
	}
}

// --- mail ---

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Reply to unread job emails in the Gmail inbox",
	Long: `Reply to unread job emails in the Gmail inbox. The profile is resolved
from the mailbox address unless --index is given. Mail that is not a job
description is left unread.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		idx, _ := cmd.Flags().GetInt("index")

		ctx, stop := signalContext()
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		gw, err := openGmail(ctx, a.cfg)
		if err != nil {
			return err
		}
		if idx < 1 {
			if idx, err = indexForMailbox(ctx, a.store, gw); err != nil {
				return err
			}
		}

		responder, err := a.factory.Responder(idx, ragTypeFlag(cmd, a.cfg), gw, a.cfg.Mail.MaxResults)
		if err != nil {
			return err
		}

		if !watch {
			return processMail(ctx, responder)
		}

		interval := pollInterval(a.cfg.Mail.PollInterval)
		printStep("Watching inbox every %s", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := processMail(ctx, responder); err != nil {
				printError("%v", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	mailCmd.Flags().Int("index", 0, "profile index to answer as (default: resolved from the mailbox address)")
	mailCmd.Flags().Int("rag-type", 0, "retrieval strategy: 1 direct, 2 skill back-reference (default from config)")
	mailCmd.Flags().Bool("watch", false, "keep polling the inbox at mail.poll_interval")
}

func openGmail(ctx context.Context, cfg config.Config) (*mail.GmailGateway, error) {
	client, err := mail.Authorize(ctx, cfg.Mail.CredentialsFile, cfg.Mail.TokenFile, os.Stdin, os.Stderr)
	if err != nil {
		return nil, err
	}
	return mail.NewGmailGateway(ctx, client, "")
}

// mailboxOwner resolves the mailbox address to a registered profile.
type mailboxOwner interface {
	LookupIndexByEmail(email string) (int, error)
}

func indexForMailbox(ctx context.Context, people mailboxOwner, gw mail.Gateway) (int, error) {
	addr, err := gw.Address(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading mailbox address: %w", err)
	}
	idx, err := people.LookupIndexByEmail(addr)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("no profile registered for %s; run applyd onboard first", addr)
	}
	if err != nil {
		return 0, err
	}
	return idx, nil
}

func processMail(ctx context.Context, r *pipeline.Responder) error {
	summary, err := r.ProcessUnread(ctx)
	if summary.Seen > 0 || err == nil {
		printSuccess("Seen %d, replied %d, skipped %d, failed %d", summary.Seen, summary.Replied, summary.Skipped, summary.Failed)
	}
	return err
}

func pollInterval(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// --- onboard ---

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Register an applicant profile and build its indexes",
	Long: `Register an applicant profile and build its indexes.

Examples:
  applyd onboard --file profile.json --email me@example.com
  applyd onboard --file profile.json --about-pdf resume.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		aboutPDF, _ := cmd.Flags().GetString("about-pdf")
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")

		if file == "" {
			return fmt.Errorf("--file is required")
		}
		rec, err := readProfileFile(file, aboutPDF)
		if err != nil {
			return err
		}
		if name == "" {
			name = rec.Name
		}
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("profile has no Name; pass --name")
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if email == "" {
			gw, err := openGmail(ctx, a.cfg)
			if err != nil {
				return fmt.Errorf("resolving email from Gmail (or pass --email): %w", err)
			}
			if email, err = gw.Address(ctx); err != nil {
				return err
			}
		}

		idx, res, err := a.onboarder.Onboard(ctx, name, email, rec)
		if err != nil {
			return err
		}
		printSuccess("Onboarded %s <%s> as profile %d (%d narrative, %d skill chunks)",
			name, email, idx, res.Narrative, res.Skills)
		return nil
	},
}

func init() {
	onboardCmd.Flags().String("file", "", "profile JSON file")
	onboardCmd.Flags().String("about-pdf", "", "PDF whose text replaces the About field")
	onboardCmd.Flags().String("email", "", "contact address (default: the Gmail account address)")
	onboardCmd.Flags().String("name", "", "display name (default: the profile's Name)")
}

func readProfileFile(path, aboutPDF string) (profile.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return profile.Record{}, fmt.Errorf("reading profile file: %w", err)
	}
	rec, err := profile.Parse(data)
	if err != nil {
		return profile.Record{}, err
	}
	if aboutPDF != "" {
		about, err := profile.ExtractPDFText(aboutPDF)
		if err != nil {
			return profile.Record{}, err
		}
		rec.About = about
	}
	return rec, nil
}

// --- persons ---

var personsCmd = &cobra.Command{
	Use:   "persons",
	Short: "Inspect the person directory",
}

var personsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered persons",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listPersons(cmd.Context(), client, os.Stdout)
	},
}

func listPersons(ctx context.Context, client *apiClient, out io.Writer) error {
	resp, err := client.get(ctx, "/persons")
	if err != nil {
		return err
	}
	var persons []struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := decodeJSON(resp, &persons); err != nil {
		return err
	}
	if len(persons) == 0 {
		fmt.Fprintln(out, "No persons registered.")
		return nil
	}
	for _, p := range persons {
		fmt.Fprintf(out, "%s  %s <%s>\n", colorize(colorCyan, fmt.Sprintf("%4d", p.Index)), p.Name, p.Email)
	}
	return nil
}

var personsLookupCmd = &cobra.Command{
	Use:   "lookup <email>",
	Short: "Show the profile index registered for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/persons?email="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Println(result["index"])
		return nil
	},
}

func init() {
	personsCmd.AddCommand(personsListCmd)
	personsCmd.AddCommand(personsLookupCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect stored profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <index>",
	Short: "Show a stored profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("index must be a number: %q", args[0])
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profiles/"+args[0])
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message to the running server and print the reply",
	Long: `Send one recruiter message through the server's sessions API. A session is
opened for the given profile, used for a single turn and then closed.

Examples:
  applyd ask --index 1 "Are you open to a senior Go role?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetInt("index")
		ragType, _ := cmd.Flags().GetInt("rag-type")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		reply, err := askOnce(cmd.Context(), client, index, ragType, args[0])
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

func init() {
	askCmd.Flags().Int("index", 0, "profile index to answer as")
	askCmd.Flags().Int("rag-type", 0, "retrieval strategy (1 or 2); server default when 0")
	askCmd.MarkFlagRequired("index")
}

func askOnce(ctx context.Context, client *apiClient, index, ragType int, message string) (string, error) {
	body := map[string]int{"profile_index": index}
	if ragType != 0 {
		body["rag_type"] = ragType
	}
	resp, err := client.post(ctx, "/sessions", body)
	if err != nil {
		return "", err
	}
	var session struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &session); err != nil {
		return "", err
	}
	defer func() {
		if resp, err := client.delete(ctx, "/sessions/"+session.ID); err == nil {
			resp.Body.Close()
		}
	}()

	resp, err = client.post(ctx, "/sessions/"+session.ID+"/messages", map[string]string{"message": message})
	if err != nil {
		return "", err
	}
	var turn struct {
		Reply string `json:"reply"`
	}
	if err := decodeJSON(resp, &turn); err != nil {
		return "", err
	}
	return turn.Reply, nil
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the most recent recorded turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		turns, err := store.RecentTurns(limit)
		if err != nil {
			return err
		}
		printHistory(os.Stdout, turns)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 10, "number of turns to show")
}

func printHistory(out io.Writer, turns []storage.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(out, "No turns recorded.")
		return
	}
	for _, t := range turns {
		mark := "continued"
		if t.Gated {
			mark = "grounded"
		}
		fmt.Fprintf(out, "%s  profile %d  %s/%s  rag %d\n",
			colorize(colorCyan, t.CreatedAt.Format(time.DateTime)), t.ProfileIndex, t.Channel, mark, t.RAGType)
		fmt.Fprintf(out, "  < %s\n  > %s\n", oneLine(t.Message), oneLine(t.Reply))
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain profile indexes",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild <index>",
	Short: "Drop and rebuild both indexes of a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index must be a number: %q", args[0])
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.profiles.Get(idx)
		if err != nil {
			return err
		}
		res, err := a.builder.Build(ctx, idx, rec)
		if err != nil {
			return err
		}
		printSuccess("Rebuilt profile %d (%d narrative, %d skill chunks)", idx, res.Narrative, res.Skills)
		return nil
	},
}

var indexCopyCmd = &cobra.Command{
	Use:   "copy <index>",
	Short: "Copy a profile's indexes from one vector backend to the other",
	Long: `Copy a profile's indexes from one vector backend to the other. Embeddings
are copied as stored; no model is called.

Examples:
  applyd index copy 3 --to pgvector
  applyd index copy 3 --to sqlite`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index must be a number: %q", args[0])
		}
		to, _ := cmd.Flags().GetString("to")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signalContext()
		defer stop()

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()
		sqlite := retrieval.NewSQLiteStore(store.DB())

		if cfg.Index.PostgresDSN == "" {
			return fmt.Errorf("index.postgres_dsn is not set")
		}
		pg, err := retrieval.NewPGVectorStore(ctx, cfg.Index.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()

		var src, dst retrieval.VectorStore
		switch to {
		case config.IndexPGVector:
			src, dst = sqlite, pg
		case config.IndexSQLite:
			src, dst = pg, sqlite
		default:
			return fmt.Errorf("--to must be %s or %s", config.IndexSQLite, config.IndexPGVector)
		}

		return copyIndexes(ctx, src, dst, idx)
	},
}

func init() {
	indexCopyCmd.Flags().String("to", config.IndexPGVector, "destination backend: sqlite or pgvector")
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexCopyCmd)
}

func copyIndexes(ctx context.Context, src, dst retrieval.VectorStore, profileIndex int) error {
	for _, ragType := range []int{retrieval.RAGDirect, retrieval.RAGSkillBackReference} {
		tag, err := retrieval.Tag(ragType)
		if err != nil {
			return err
		}
		name := retrieval.IndexName(profileIndex, tag)
		n, err := retrieval.Copy(ctx, src, dst, name)
		if err != nil {
			return err
		}
		printSuccess("Copied %d chunks of %s", n, name)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
