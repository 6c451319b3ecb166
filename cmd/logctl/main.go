package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/kr/text"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/metrics"
	"github.com/downfa11-org/raftlog/pkg/storage"
)

func main() {
	cfg, err := storage.LoadConfig()
	if err != nil {
		fmt.Println("failed to load config:", err)
		os.Exit(1)
	}

	opts, err := cfg.ToOptions()
	if err != nil {
		fmt.Println("invalid config:", err)
		os.Exit(1)
	}

	eng, err := storage.Open(opts)
	if err != nil {
		fmt.Println("failed to open storage:", err)
		os.Exit(1)
	}
	defer eng.Close()
	eng.Start()

	if cfg.EnableExporter {
		metrics.StartExporter(cfg.MetricsPort)
	}

	out := colorable.NewColorable(os.Stdout)
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	repl := &repl{eng: eng, out: out}
	fmt.Fprintln(out, color.GreenString("raftlog ready at %s. type HELP for commands.", cfg.Dir))

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			break
		}
		repl.handle(line)
	}
}

type repl struct {
	eng *storage.Engine
	out io.Writer
}

func (r *repl) handle(line string) {
	fields := strings.Fields(line)
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "HELP":
		r.help()
	case "STATS":
		r.stats()
	case "GET":
		r.get(args)
	case "APPEND":
		r.append(args)
	case "TRUNCATE":
		r.truncate(args)
	case "COMPACT":
		r.compact(args)
	default:
		fmt.Fprintln(r.out, color.RedString("unknown command %q, type HELP", fields[0]))
	}
}

func (r *repl) help() {
	body := strings.Join([]string{
		"STATS                  show first/last index and segment summary",
		"GET <index>            print the entry at index",
		"APPEND <payload>       append a Command entry",
		"TRUNCATE <index>       drop every entry at or after index",
		"COMPACT minor|major    run one compaction pass now",
		"EXIT                   quit",
	}, "\n")
	indented := text.Indent(body, "  ")
	fmt.Fprintln(r.out, indented)
}

func (r *repl) stats() {
	log := r.eng.Log
	fmt.Fprintf(r.out, "first index : %d\n", log.FirstIndex())
	fmt.Fprintf(r.out, "last index  : %d\n", log.LastIndex())

	segs := log.Manager().All()
	fmt.Fprintf(r.out, "segments    : %d\n", len(segs))
	for _, seg := range segs {
		sealed := "open"
		if seg.Sealed() {
			sealed = "sealed"
		}
		fmt.Fprintf(r.out, "  id=%d version=%d first=%d entries=%d bytes=%d clean=%.0f%% %s\n",
			seg.ID(), seg.Version(), seg.FirstIndex(), seg.EntryCount(), seg.ByteSize(), seg.CleanRatio()*100, sealed)
	}
}

func (r *repl) get(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, color.RedString("usage: GET <index>"))
		return
	}
	idx, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintln(r.out, color.RedString("bad index: %v", err))
		return
	}
	e, ok, err := r.eng.Log.Get(idx)
	if err != nil {
		fmt.Fprintln(r.out, color.RedString("error: %v", err))
		return
	}
	if !ok {
		fmt.Fprintln(r.out, color.YellowString("index %d not present (compacted or never written)", idx))
		return
	}
	fmt.Fprintf(r.out, "index=%d term=%d kind=%s payload=%q\n", e.Index, e.Term, e.Kind, e.Payload)
}

func (r *repl) append(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, color.RedString("usage: APPEND <payload>"))
		return
	}
	payload := strings.Join(args, " ")
	idx, err := r.eng.Append(entry.Entry{Term: r.eng.Meta.Snapshot().CurrentTerm, Kind: entry.Command, Payload: []byte(payload)})
	if err != nil {
		fmt.Fprintln(r.out, color.RedString("append failed: %v", err))
		return
	}
	fmt.Fprintln(r.out, color.GreenString("appended at index %d", idx))
}

func (r *repl) truncate(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, color.RedString("usage: TRUNCATE <index>"))
		return
	}
	idx, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintln(r.out, color.RedString("bad index: %v", err))
		return
	}
	if err := r.eng.Log.Truncate(idx); err != nil {
		fmt.Fprintln(r.out, color.RedString("truncate failed: %v", err))
		return
	}
	fmt.Fprintln(r.out, color.GreenString("truncated from index %d", idx))
}

func (r *repl) compact(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, color.RedString("usage: COMPACT minor|major"))
		return
	}
	switch strings.ToLower(args[0]) {
	case "minor":
		r.eng.Compactor.TriggerMinor()
		fmt.Fprintln(r.out, color.GreenString("minor compaction dispatched"))
	case "major":
		r.eng.Compactor.TriggerMajor()
		fmt.Fprintln(r.out, color.GreenString("major compaction dispatched"))
	default:
		fmt.Fprintln(r.out, color.RedString("unknown compaction kind %q", args[0]))
	}
}
