// Command mufrun wires the engine, object database, primitive library,
// scheduler, and tunables together and drives one frame to completion.
// Grounded on the teacher's cmd/barn/main.go (flag.Parse + log.Printf
// startup banner + trace.Init shape); the teacher's db/server/parser
// stack isn't adapted here (see DESIGN.md), so this loads a program
// straight into the registry instead of reading a flat-file database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"muckvm/config"
	"muckvm/engine"
	"muckvm/objdb"
	"muckvm/primitive"
	"muckvm/program"
	"muckvm/sched"
	"muckvm/trace"
	"muckvm/value"
)

// consoleIO routes engine notifications to stdout; there is only one
// "connection" here, so the block/curr-prog bookkeeping is just logged.
type consoleIO struct{}

func (consoleIO) Notify(player value.ObjID, text string) {
	fmt.Printf("[#%d] %s\n", player, text)
}

func (consoleIO) SetBlock(player value.ObjID, blocked bool) {
	log.Printf("input block for #%d: %v", player, blocked)
}

func (consoleIO) SetCurrProg(player value.ObjID, prog value.ProgID) {
	log.Printf("input routing for #%d -> program #%d", player, prog)
}

func main() {
	configPath := flag.String("config", "", "Tunables YAML document (defaults built in if omitted)")
	traceEnabled := flag.Bool("trace", false, "Enable execution tracing")
	traceFilter := flag.String("trace-filter", "", "Trace filter pattern (glob), comma-separated")
	flag.Parse()

	if *traceEnabled {
		var filters []string
		if *traceFilter != "" {
			filters = strings.Split(*traceFilter, ",")
			for i := range filters {
				filters[i] = strings.TrimSpace(filters[i])
			}
		}
		trace.Init(true, filters, os.Stderr)
	} else {
		trace.Init(false, nil, nil)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading tunables: %v", err)
		}
		cfg = loaded
	}

	registry := objdb.NewRegistry(nil)
	prims := primitive.NewRegistry()
	primitive.RegisterBuiltins(prims)

	mgr := sched.NewManager()
	eng := engine.New(registry, prims, mgr, cfg)
	eng.IO = consoleIO{}
	mgr.Bind(eng, registry)

	player := value.ObjID(1)
	prog := value.ObjID(2)
	registry.Put(&objdb.Object{ID: player, Typeof: objdb.TypePlayer, Owner: player, Level: 3})
	registry.Put(&objdb.Object{ID: prog, Typeof: objdb.TypeProgram, Owner: player, Level: 3, Flags: objdb.FlagLinkable})
	registry.PutProgram(value.ProgID(prog), &program.Program{
		ID:    value.ProgID(prog),
		Owner: player,
		Start: 0,
		Code: []program.Instruction{
			{Op: program.OpPush, Value: value.NewString("hello, muck", 1), Line: 1},
			{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},
		},
	})

	f, err := eng.Init(0, engine.InitArgs{
		Player:  player,
		Source:  player,
		Program: prog,
		CmdName: "demo",
	})
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	outcome, top, err := eng.Execute(player, f, registry)
	if err != nil {
		log.Fatalf("execute: %v", err)
	}
	fmt.Printf("outcome=%v top=%v\n", outcome, top)

	for range mgr.Tick(time.Now()) {
	}
}
