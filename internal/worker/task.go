package worker

import (
	"fmt"
	"sync"
)

// taskPort runs a Compressor on its own goroutine. Requests and responses
// travel over channels; no state is shared with the caller.
type taskPort struct {
	in     chan Request
	out    chan Response
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// Spawn starts a compression task for codec. Its first message is the
// readiness report (MethodInit), successful only if codec is usable.
func Spawn(codec string) Port {
	p := &taskPort{
		in:     make(chan Request, 64),
		out:    make(chan Response, 64),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go p.run(codec)
	return p
}

func (p *taskPort) run(codec string) {
	defer close(p.exited)
	defer close(p.out)

	comp, err := NewCompressor(codec)
	ready := Response{Method: MethodInit, Success: err == nil}
	if err != nil {
		ready.Error = err.Error()
	}
	if !p.send(ready) || err != nil {
		return
	}

	for {
		select {
		case <-p.done:
			return
		case req := <-p.in:
			if !p.send(handle(comp, req)) {
				return
			}
		}
	}
}

func handle(comp *Compressor, req Request) Response {
	resp := Response{ID: req.ID, Method: req.Method}
	var err error
	switch req.Method {
	case MethodClear:
		err = comp.Clear()
	case MethodAddEvent:
		err = comp.AddEvent(req.Arg)
	case MethodFinish:
		resp.Response, err = comp.Finish()
	default:
		err = fmt.Errorf("unknown method %q", req.Method)
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Success = true
	return resp
}

func (p *taskPort) send(r Response) bool {
	select {
	case p.out <- r:
		return true
	case <-p.done:
		return false
	}
}

func (p *taskPort) Post(req Request) error {
	select {
	case <-p.done:
		return ErrTerminated
	case <-p.exited:
		return ErrTerminated
	default:
	}
	select {
	case p.in <- req:
		return nil
	case <-p.done:
		return ErrTerminated
	case <-p.exited:
		return ErrTerminated
	}
}

func (p *taskPort) Messages() <-chan Response { return p.out }

func (p *taskPort) Terminate() {
	p.once.Do(func() { close(p.done) })
}
