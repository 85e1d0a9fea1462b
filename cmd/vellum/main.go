package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tejas242/vellum/internal/config"
	"github.com/tejas242/vellum/internal/engine"
	"github.com/tejas242/vellum/internal/tui"
	"github.com/tejas242/vellum/internal/watch"
	"github.com/tejas242/vellum/internal/weights"
)

var (
	defaultCheckpoint   = "./model.bin"
	defaultTokenizer    = "./tokenizer.bin"
	defaultAccessMode   = "mmap"
	defaultCacheLimitMB = 64
	defaultMaxSessions  = 0
	defaultThreads      = 0
	defaultModelKind    = "chat"
)

func main() {
	root := &cobra.Command{
		Use:   "vellum",
		Short: "Embeddable Llama-2-style inference engine",
		Long:  "vellum — run, chat with, and benchmark Llama-2-style checkpoints locally.",
	}

	if f, err := config.Load(".vellum.toml"); err == nil {
		d := f.Overlay(config.Defaults{
			Checkpoint:   defaultCheckpoint,
			Tokenizer:    defaultTokenizer,
			AccessMode:   defaultAccessMode,
			CacheLimitMB: defaultCacheLimitMB,
			MaxSessions:  defaultMaxSessions,
			Threads:      defaultThreads,
			ModelKind:    defaultModelKind,
		})
		defaultCheckpoint, defaultTokenizer, defaultAccessMode = d.Checkpoint, d.Tokenizer, d.AccessMode
		defaultCacheLimitMB, defaultMaxSessions, defaultThreads, defaultModelKind = d.CacheLimitMB, d.MaxSessions, d.Threads, d.ModelKind
	}

	var checkpointPath, tokenizerPath, accessModeFlag, modelKindFlag string
	var cacheLimitMB, maxSessions, threads int
	root.PersistentFlags().StringVar(&checkpointPath, "checkpoint", defaultCheckpoint, "path to the checkpoint file")
	root.PersistentFlags().StringVar(&tokenizerPath, "tokenizer", defaultTokenizer, "path to the tokenizer file")
	root.PersistentFlags().StringVar(&accessModeFlag, "access-mode", defaultAccessMode, "mmap | address | read-cache")
	root.PersistentFlags().IntVar(&cacheLimitMB, "cache-limit-mb", defaultCacheLimitMB, "read-cache byte budget in MB")
	root.PersistentFlags().IntVar(&maxSessions, "max-sessions", defaultMaxSessions, "max concurrent sessions (0 = unlimited)")
	root.PersistentFlags().IntVar(&threads, "threads", defaultThreads, "worker pool thread count (0 = 1)")
	root.PersistentFlags().StringVar(&modelKindFlag, "model-kind", defaultModelKind, "gen | chat prompt templating")

	parseAccessMode := func(s string) weights.AccessMode {
		switch s {
		case "address":
			return weights.AccessAddress
		case "read-cache":
			return weights.AccessReadCache
		default:
			return weights.AccessMMap
		}
	}
	parseKind := func(s string) engine.Kind {
		if s == "gen" {
			return engine.Gen
		}
		return engine.Chat
	}

	modelOptions := func(name string) engine.ModelOptions {
		return engine.ModelOptions{
			CheckpointPath: checkpointPath,
			TokenizerPath:  tokenizerPath,
			AccessMode:     parseAccessMode(accessModeFlag),
			CacheLimit:     int64(cacheLimitMB) << 20,
			Threads:        threads,
			MaxSessions:    maxSessions,
			Kind:           parseKind(modelKindFlag),
			Name:           name,
			APIVersion:     engine.APIVersion,
		}
	}

	loadHandle := func(name string) (*engine.Engine, *engine.Handle, error) {
		e := engine.New()
		h, err := e.Load(modelOptions(name))
		if err != nil {
			return nil, nil, err
		}
		return e, h, nil
	}

	var systemPrompt string
	var limit int
	var temperature, topp float64

	// ---- vellum run <prompt> ------------------------------------------------
	runCmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Generate once from a prompt and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")

			fmt.Fprint(os.Stderr, "Loading model… ")
			e, h, err := loadHandle("run")
			if err != nil {
				fmt.Fprintln(os.Stderr, "")
				return err
			}
			defer e.Destroy(h.Name())
			fmt.Fprintln(os.Stderr, "ready.")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				fmt.Fprintln(os.Stderr, "\n[vellum] interrupted")
				os.Exit(130)
			}()

			_, err = h.NewSession(engine.SessionOptions{
				Prompt:       prompt,
				SystemPrompt: systemPrompt,
				Temperature:  float32(temperature),
				TopP:         float32(topp),
				RNGSeed:      uint64(time.Now().UnixNano()),
				Limit:        limit,
				Callback: func(piece []byte, _ any) {
					if len(piece) == 1 && piece[0] == 0 {
						return
					}
					fmt.Print(string(piece))
				},
			})
			if err != nil {
				return err
			}
			for h.StepNext() {
			}
			fmt.Println()
			return nil
		},
	}
	runCmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt (chat mode)")
	runCmd.Flags().IntVar(&limit, "limit", 256, "max tokens to generate")
	runCmd.Flags().Float64Var(&temperature, "temperature", 0.8, "sampling temperature (0 = argmax)")
	runCmd.Flags().Float64Var(&topp, "top-p", 0.9, "nucleus sampling mass")
	root.AddCommand(runCmd)

	// ---- vellum chat ---------------------------------------------------------
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Launch the interactive chat TUI",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Loading model… ")
			e, h, err := loadHandle("chat")
			if err != nil {
				fmt.Fprintln(os.Stderr, "")
				return err
			}
			defer e.Destroy(h.Name())
			fmt.Fprintln(os.Stderr, "ready.")

			p := tea.NewProgram(tui.New(h, systemPrompt), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	chatCmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt")
	root.AddCommand(chatCmd)

	// ---- vellum bench ---------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "bench",
		Short: "Report generation throughput (tokens per second); cache statistics are not printed",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Loading model… ")
			e, h, err := loadHandle("bench")
			if err != nil {
				fmt.Fprintln(os.Stderr, "")
				return err
			}
			defer e.Destroy(h.Name())
			fmt.Fprintln(os.Stderr, "ready.")

			var tokens int
			start := time.Now()
			_, err = h.NewSession(engine.SessionOptions{
				Prompt: "the quick brown fox jumps over the lazy dog",
				Limit:  64,
				Callback: func(piece []byte, _ any) {
					if len(piece) == 1 && piece[0] == 0 {
						return
					}
					tokens++
				},
			})
			if err != nil {
				return err
			}
			for h.StepNext() {
			}
			elapsed := time.Since(start)
			fmt.Printf("%d tokens in %s (%.1f tok/s)\n", tokens, elapsed.Round(time.Millisecond), float64(tokens)/elapsed.Seconds())
			return nil
		},
	})

	// ---- vellum serve -----------------------------------------------------------
	var watchFlag bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose a line-oriented generate protocol over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Loading model… ")
			e := engine.New()
			reloader, err := watch.NewReloader(e, modelOptions("serve"))
			if err != nil {
				fmt.Fprintln(os.Stderr, "")
				return err
			}
			fmt.Fprintln(os.Stderr, "ready.")
			defer reloader.Current().Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watchFlag {
				w, err := watch.New(checkpointPath, reloader)
				if err != nil {
					return err
				}
				done := make(chan struct{})
				go func() { <-ctx.Done(); close(done) }()
				go func() {
					if err := w.Watch(done); err != nil {
						fmt.Fprintf(os.Stderr, "[serve] watch error: %v\n", err)
					}
				}()
			}

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for scanner.Scan() {
				prompt := scanner.Text()
				if prompt == "" {
					continue
				}
				h := reloader.Current()
				_, err := h.NewSession(engine.SessionOptions{
					Prompt:       prompt,
					SystemPrompt: systemPrompt,
					Temperature:  float32(temperature),
					TopP:         float32(topp),
					RNGSeed:      uint64(time.Now().UnixNano()),
					Limit:        limit,
					Callback: func(piece []byte, _ any) {
						if len(piece) == 1 && piece[0] == 0 {
							return
						}
						fmt.Fprint(os.Stdout, string(piece))
					},
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "[serve] session error: %v\n", err)
					continue
				}
				for h.StepNext() {
				}
				fmt.Fprintln(os.Stdout)
			}
			return scanner.Err()
		},
	}
	serveCmd.Flags().BoolVar(&watchFlag, "watch", false, "hot-reload the model when the checkpoint file changes")
	serveCmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt (chat mode)")
	serveCmd.Flags().IntVar(&limit, "limit", 256, "max tokens to generate per line")
	serveCmd.Flags().Float64Var(&temperature, "temperature", 0.8, "sampling temperature (0 = argmax)")
	serveCmd.Flags().Float64Var(&topp, "top-p", 0.9, "nucleus sampling mass")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
