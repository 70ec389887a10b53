package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/alloc"
	"github.com/wippyai/sandbox-runtime/instance"
	"github.com/wippyai/sandbox-runtime/module"
	"github.com/wippyai/sandbox-runtime/region"
	"github.com/wippyai/sandbox-runtime/trapcode"
	"github.com/wippyai/sandbox-runtime/val"
)

func main() {
	var (
		scenario  = flag.String("scenario", "sum", "Scenario to run (sum|yield|fault|spin)")
		capacity  = flag.Int("capacity", 4, "Region slot capacity")
		bound     = flag.Uint64("bound", 0, "Instruction bound (0 = unbounded)")
		killAfter = flag.Duration("kill-after", 0, "Fire a kill switch after this duration (0 = never)")
		verbose   = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		region.SetLogger(logger.Named("region"))
		instance.SetLogger(logger.Named("instance"))
	}

	if err := run(*scenario, *capacity, *bound, *killAfter); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scenario string, capacity int, bound uint64, killAfter time.Duration) error {
	mod, err := demoModule()
	if err != nil {
		return fmt.Errorf("build module: %w", err)
	}

	r, err := region.Create(capacity, alloc.DefaultLimits())
	if err != nil {
		return fmt.Errorf("create region: %w", err)
	}
	defer r.Close()

	b := r.NewInstanceBuilder(mod)
	if bound > 0 {
		b = b.WithInstructionBound(bound)
	}
	inst, err := b.Build()
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	defer inst.Drop()

	fmt.Printf("Region: %d/%d slots used\n", r.UsedSlots(), r.Capacity())

	if killAfter > 0 {
		ks := inst.KillSwitch()
		go func() {
			time.Sleep(killAfter)
			if outcome, err := ks.Terminate(); err == nil {
				fmt.Printf("kill switch fired: %s\n", outcome)
			}
		}()
	}

	res, err := inst.Run(scenario, scenarioArgs(scenario))
	for err == nil {
		if rv, ok := res.Returned(); ok {
			fmt.Printf("%s returned %d\n", scenario, rv.AsU64())
			return nil
		}
		if y, ok := res.Yielded(); ok {
			fmt.Printf("%s yielded %v\n", scenario, y)
			res, err = inst.Resume()
			continue
		}
		if res.BoundExpired() {
			fmt.Printf("%s exhausted its instruction bound, resuming\n", scenario)
			inst.SetInstructionBound(bound)
			res, err = inst.Resume()
			continue
		}
	}
	fmt.Printf("%s ended: %v (instance %s)\n", scenario, err, inst.State())
	return nil
}

func scenarioArgs(scenario string) []val.Val {
	if strings.EqualFold(scenario, "sum") {
		return []val.Val{val.U64(40), val.U64(2)}
	}
	return nil
}

func demoModule() (module.Module, error) {
	return module.NewMockModuleBuilder().
		WithName("demo").
		WithExportFunc("sum", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			return val.RetGp(args[0].AsU64() + args[1].AsU64())
		}, module.Signature{Params: []val.Kind{val.KindU64, val.KindU64}, Ret: val.KindU64}).
		WithExportFunc("yield", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			for n := uint64(1); n <= 3; n++ {
				vm.YieldVal(n)
			}
			return val.RetGp(0)
		}, module.Signature{Ret: val.KindU64}).
		WithExportFunc("fault", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			vm.Trap(trapcode.Unreachable, 0)
			return val.RetGp(0)
		}, module.Signature{Ret: val.KindU64}).
		WithExportFunc("spin", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			for {
				vm.Tick(1)
			}
		}, module.Signature{NoRet: true}).
		Build()
}
