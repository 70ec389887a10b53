package instance

import (
	"sync"
	"testing"
	"time"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/module"
	"github.com/wippyai/sandbox-runtime/val"
)

// spinModule builds a module whose "spin" entry point signals started and
// then polls its termination checkpoint forever.
func spinModule(t *testing.T, started chan<- struct{}) module.Module {
	t.Helper()
	return mustBuild(t, module.NewMockModuleBuilder().
		WithExportFunc("spin", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			started <- struct{}{}
			for {
				vm.Checkpoint()
			}
		}, module.Signature{NoRet: true}))
}

func TestKillSwitchSignalsRunningGuest(t *testing.T) {
	started := make(chan struct{})
	inst := newTestInstance(t, spinModule(t, started))
	defer inst.Drop()
	ks := inst.KillSwitch()

	outcome := make(chan KillOutcome, 1)
	go func() {
		<-started
		o, err := ks.Terminate()
		if err != nil {
			t.Errorf("terminate: %v", err)
		}
		outcome <- o
	}()

	_, err := inst.Run("spin", nil)
	if !errors.IsKind(err, errors.KindRuntimeTerminated) {
		t.Fatalf("run error = %v, want runtime terminated", err)
	}
	if o := <-outcome; o != KillSignalled {
		t.Errorf("kill outcome = %v, want signalled", o)
	}
	if inst.State() != StateTerminated {
		t.Errorf("state = %v, want terminated", inst.State())
	}

	// The instance returns to service after a reset.
	if err := inst.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if inst.State() != StateReady {
		t.Errorf("state after reset = %v, want ready", inst.State())
	}
}

func TestKillSwitchExactlyOneWins(t *testing.T) {
	started := make(chan struct{})
	inst := newTestInstance(t, spinModule(t, started))
	defer inst.Drop()

	const killers = 16
	results := make(chan error, killers)
	var wg sync.WaitGroup
	go func() {
		<-started
		for range killers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := inst.KillSwitch().Terminate()
				results <- err
			}()
		}
	}()

	if _, err := inst.Run("spin", nil); !errors.IsKind(err, errors.KindRuntimeTerminated) {
		t.Fatalf("run error = %v, want runtime terminated", err)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.IsKind(err, errors.KindNotTerminable) {
			t.Errorf("loser error = %v, want not terminable", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d kill switches succeeded, want exactly 1", wins)
	}
}

func TestKillSwitchCancelsIdleInstance(t *testing.T) {
	m := mustBuild(t, module.NewMockModuleBuilder().
		WithExportFunc("f", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			return val.RetGp(1)
		}, module.Signature{Ret: val.KindU64}))
	inst := newTestInstance(t, m)
	defer inst.Drop()

	o, err := inst.KillSwitch().Terminate()
	if err != nil {
		t.Fatalf("terminate idle instance: %v", err)
	}
	if o != KillCancelled {
		t.Errorf("kill outcome = %v, want cancelled", o)
	}

	// The cancellation lands on the next run attempt.
	if _, err := inst.Run("f", nil); !errors.IsKind(err, errors.KindRuntimeTerminated) {
		t.Fatalf("cancelled run error = %v, want runtime terminated", err)
	}
	if err := inst.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	res, err := inst.Run("f", nil)
	rv := mustReturn(t, res, err)
	if rv.AsU64() != 1 {
		t.Errorf("run after reset returned %d, want 1", rv.AsU64())
	}
}

func TestKillSwitchCancelsYieldedInstance(t *testing.T) {
	m := mustBuild(t, module.NewMockModuleBuilder().
		WithExportFunc("pause", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			vm.YieldVal(nil)
			return val.RetGp(0)
		}, module.Signature{NoRet: true}))
	inst := newTestInstance(t, m)
	defer inst.Drop()

	res, err := inst.Run("pause", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := res.Yielded(); !ok {
		t.Fatalf("run did not yield")
	}

	o, err := inst.KillSwitch().Terminate()
	if err != nil {
		t.Fatalf("terminate yielded instance: %v", err)
	}
	if o != KillCancelled {
		t.Errorf("kill outcome = %v, want cancelled", o)
	}

	if _, err := inst.Resume(); !errors.IsKind(err, errors.KindRuntimeTerminated) {
		t.Fatalf("resume of killed instance = %v, want runtime terminated", err)
	}
	if inst.State() != StateTerminated {
		t.Errorf("state = %v, want terminated", inst.State())
	}
	if err := inst.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestKillSwitchDefersDuringHostcall(t *testing.T) {
	inHostcall := make(chan struct{})
	killed := make(chan struct{})
	reached := false

	m := mustBuild(t, module.NewMockModuleBuilder().
		WithExportFunc("callout", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			vm.BeginHostcall()
			inHostcall <- struct{}{}
			<-killed
			reached = true
			vm.EndHostcall()
			return val.RetGp(0)
		}, module.Signature{NoRet: true}))
	inst := newTestInstance(t, m)
	defer inst.Drop()

	outcome := make(chan KillOutcome, 1)
	go func() {
		<-inHostcall
		o, err := inst.KillSwitch().Terminate()
		if err != nil {
			t.Errorf("terminate: %v", err)
		}
		outcome <- o
		close(killed)
	}()

	_, err := inst.Run("callout", nil)
	if !errors.IsKind(err, errors.KindRuntimeTerminated) {
		t.Fatalf("run error = %v, want runtime terminated", err)
	}
	if o := <-outcome; o != KillPending {
		t.Errorf("kill outcome = %v, want pending", o)
	}
	if !reached {
		t.Errorf("hostcall was interrupted; termination must wait for its end")
	}
}

func TestKillSwitchValidAfterDrop(t *testing.T) {
	m := mustBuild(t, module.NewMockModuleBuilder())
	inst := newTestInstance(t, m)
	ks := inst.KillSwitch()
	inst.Drop()

	if _, err := ks.Terminate(); !errors.IsKind(err, errors.KindNotTerminable) {
		t.Fatalf("kill switch after drop = %v, want not terminable", err)
	}
}

func TestCheckpointLatency(t *testing.T) {
	started := make(chan struct{})
	inst := newTestInstance(t, spinModule(t, started))
	defer inst.Drop()

	done := make(chan struct{})
	go func() {
		<-started
		inst.KillSwitch().Terminate()
	}()
	go func() {
		inst.Run("spin", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("checkpoint-polling guest did not stop after termination")
	}
}
