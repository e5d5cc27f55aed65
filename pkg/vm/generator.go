package vm

import "github.com/emberlang/ember/pkg/object"

// generatorStep resumes gen's coroutine and blocks until it either yields a
// value or finishes (normally or by raising).
//
// A generator's body runs on a dedicated goroutine, executing an ordinary
// runLoop against a childVM that nobody else ever touches; OpYield (see
// dispatch.go) suspends that goroutine on a channel receive instead of
// unwinding any Go call stack, so everything the body had pushed — locals,
// operands, nested frames — is still exactly where it was the moment
// resumption continues. Exactly one of {this goroutine, gen's coroutine
// goroutine} is ever runnable at a time: generatorStep blocks until the
// coroutine reports back, and the coroutine blocks on gen.Resume until
// generatorStep sends again, so the two never race over the childVM's
// stack or this VM's own.
//
// Returns (value, done, errVal, hasErr): done means the generator is
// exhausted (normally, value is meaningless) or failed (hasErr, errVal is
// the exception the caller must re-raise in its own context via vm.raise).
func (vm *VM) generatorStep(gen *object.Generator) (object.Value, bool, object.Value, bool) {
	if gen.Finished {
		return object.Null, true, object.Null, false
	}
	if !gen.Started {
		gen.Started = true
		gen.Resume = make(chan object.Value)
		gen.YieldCh = make(chan object.GeneratorSignal)
		vm.startGenerator(gen)
	} else {
		gen.Resume <- object.Null
	}
	sig, ok := <-gen.YieldCh
	if !ok {
		gen.Finished = true
		return object.Null, true, object.Null, false
	}
	if sig.Done {
		gen.Finished = true
		if sig.HasErr {
			return object.Null, true, sig.Err, true
		}
		return object.Null, true, object.Null, false
	}
	return sig.Value, false, object.Null, false
}

// startGenerator builds the private childVM gen's body runs on and launches
// the goroutine that drives it.
func (vm *VM) startGenerator(gen *object.Generator) {
	child := vm.childVM()
	child.currentGenerator = gen
	child.push(object.FromObj(gen.Closure))
	for _, a := range gen.Args {
		child.push(a)
	}
	child.frames = append(child.frames, &Frame{Closure: gen.Closure, Base: 0})

	go func() {
		ok := child.runLoop(0)
		gen.Stack = nil
		gen.SP = 0
		if !ok {
			errVal := child.uncaught
			child.hasUncaught = false
			gen.YieldCh <- object.GeneratorSignal{Done: true, HasErr: true, Err: errVal}
		} else {
			gen.YieldCh <- object.GeneratorSignal{Done: true}
		}
		close(gen.YieldCh)
	}()
}

// suspendForYield implements OpYield's suspend half when vm is itself a
// generator's childVM (vm.currentGenerator != nil, see dispatch.go): it
// snapshots the generator's own live stack for the collector to find while
// this goroutine sits blocked (see gc.blacken's *object.Generator case),
// publishes the yielded value, and blocks until generatorStep resumes it.
func (vm *VM) suspendForYield(val object.Value) {
	gen := vm.currentGenerator
	gen.Stack = vm.stack[:vm.sp]
	gen.SP = vm.sp
	gen.YieldCh <- object.GeneratorSignal{Value: val}
	<-gen.Resume
}
