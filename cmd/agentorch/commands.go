package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/TheLazyLemur/agentorch/internal/conversation"
	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/TheLazyLemur/agentorch/internal/dashboard"
	"github.com/TheLazyLemur/agentorch/internal/dispatch"
	"github.com/TheLazyLemur/agentorch/internal/promptfile"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func runCommand(a *app) *cobra.Command {
	var system string

	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Invoke the agent once; the prompt comes from args or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			req := a.cfg.BaseRequest()
			req.Prompt = prompt
			req.System = system

			out, err := a.invoker.Invoke(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "System prompt prefixed to the prompt")
	return cmd
}

type batchOptions struct {
	Prompts       []string
	SharedSystem  string
	Workers       int
	Interruptible bool
	JSON          bool
}

// unitOutput is one line of batch --json output.
type unitOutput struct {
	Index   int    `json:"index"`
	Name    string `json:"name,omitempty"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

func batchCommand(a *app) *cobra.Command {
	opts := &batchOptions{}

	cmd := &cobra.Command{
		Use:   "batch [prompt files or dirs...]",
		Short: "Run many prompts in parallel and print results in input order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("workers") {
				opts.Workers = a.cfg.MaxWorkers
			}
			return a.runBatch(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.Prompts, "prompt", "p", nil, "Inline prompt, repeatable; runs after prompt files")
	flags.StringVar(&opts.SharedSystem, "shared-system", "", "Context prefixed to every request's system prompt")
	flags.IntVarP(&opts.Workers, "workers", "w", dispatch.DefaultWorkers, "Concurrent invocations, clamped to [1,10]")
	flags.BoolVar(&opts.Interruptible, "interruptible", false, "Stop scheduling on SIGINT and report partial results")
	flags.BoolVar(&opts.JSON, "json", false, "Print results as a JSON array")
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command, opts *batchOptions, args []string) error {
	files, err := promptfile.Collect(args)
	if err != nil {
		return err
	}

	base := a.cfg.BaseRequest()
	var names []string
	var reqs []core.Request
	for _, f := range files {
		names = append(names, f.Name)
		reqs = append(reqs, f.Request(base))
	}
	for _, p := range opts.Prompts {
		req := base
		req.Prompt = p
		names = append(names, "")
		reqs = append(reqs, req)
	}

	mode := "all"
	if opts.Interruptible {
		mode = "interruptible"
	}

	b := dispatch.Batch{
		ID:           uuid.NewString(),
		Requests:     reqs,
		SharedSystem: core.PlainText(opts.SharedSystem),
		MaxWorkers:   opts.Workers,
	}
	if a.hub != nil {
		obs := dashboard.NewObserver(a.hub, b.ID, mode, len(reqs))
		defer obs.Close()
		b.Observer = obs
	}

	if !opts.Interruptible {
		outputs, err := a.dispatcher.DispatchAll(cmd.Context(), b)
		if err != nil {
			return err
		}
		units := make([]unitOutput, len(outputs))
		for i, out := range outputs {
			units[i] = unitOutput{Index: i, Name: names[i], Output: out}
		}
		return writeUnits(cmd.OutOrStdout(), units, opts.JSON)
	}

	token := dispatch.NewInterruptToken()
	stop := interruptOnSignal(token)
	defer stop()
	if a.server != nil {
		a.server.OnInterrupt(token.Interrupt)
		defer a.server.OnInterrupt(nil)
	}

	results, err := a.dispatcher.DispatchInterruptible(cmd.Context(), b, token)
	if err != nil {
		return err
	}

	units := make([]unitOutput, len(results))
	var failed, skipped int
	for i, res := range results {
		u := unitOutput{Index: i, Name: names[i]}
		switch {
		case res == nil:
			u.Skipped = true
			skipped++
		case res.Err != nil:
			u.Error = res.Err.Error()
			failed++
		default:
			u.Output = res.Output
		}
		units[i] = u
	}
	if err := writeUnits(cmd.OutOrStdout(), units, opts.JSON); err != nil {
		return err
	}

	switch {
	case failed > 0:
		return errors.Errorf("%d of %d invocations failed", failed, len(results))
	case skipped > 0:
		return errors.Errorf("interrupted: %d of %d invocations skipped", skipped, len(results))
	}
	return nil
}

// interruptOnSignal sets token on the first SIGINT until stop is called.
func interruptOnSignal(token *dispatch.InterruptToken) (stop func()) {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt)

	go func() {
		select {
		case <-sigs:
			slog.Warn("interrupt received, finishing running invocations")
			token.Interrupt()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func writeUnits(w io.Writer, units []unitOutput, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(units), "writing json")
	}

	for _, u := range units {
		label := fmt.Sprintf("[%d]", u.Index)
		if u.Name != "" {
			label += " " + u.Name
		}
		fmt.Fprintf(w, "=== %s ===\n", label)
		switch {
		case u.Skipped:
			fmt.Fprintln(w, "(skipped)")
		case u.Error != "":
			fmt.Fprintf(w, "error: %s\n", u.Error)
		default:
			fmt.Fprintln(w, u.Output)
		}
	}
	return nil
}

func chatCommand(a *app) *cobra.Command {
	var system string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold a conversation; /reset clears it, /turns counts exchanges, /exit quits",
		RunE: func(cmd *cobra.Command, args []string) error {
			thread := conversation.New(a.invoker, core.PlainText(system), a.cfg.BaseRequest())
			return chatLoop(cmd, thread)
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "System prompt for the whole conversation")
	return cmd
}

func chatLoop(cmd *cobra.Command, thread *conversation.Thread) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit":
			return nil
		case "/reset":
			thread.Reset()
			fmt.Fprintln(out, "conversation reset")
			continue
		case "/turns":
			fmt.Fprintln(out, thread.TurnCount())
			continue
		}

		reply, err := thread.Send(cmd.Context(), core.PlainText(line))
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
	return errors.Wrap(scanner.Err(), "reading input")
}

func backendsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List known backends and whether their executables are on PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEXECUTABLE\tDESCRIPTION\tPATH")
			for _, b := range a.resolver.Available() {
				path := b.Path
				if !b.Available {
					path = "not found"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Name, b.Executable, b.Label, path)
			}
			return w.Flush()
		},
	}
}
