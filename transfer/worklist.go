package transfer

import "sync"

// fileJob is one unit of side-channel work: a file to stream out (get) or
// to receive into (put).
type fileJob struct {
	// abs is the server-side absolute path, already sandbox-checked.
	abs string
	// rel is the peer-visible name, relative to the transfer origin.
	rel string
	// size is the byte count: the file's size for get, the announced
	// length for put.
	size uint64
}

// worklist is the blocking producer/consumer queue between a transaction's
// control-channel goroutine and its side-channel goroutine. A push adds a
// job; finish and abort are the sentinels that unblock the consumer.
type worklist struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []fileJob
	done    bool
	aborted bool
}

func newWorklist() *worklist {
	w := &worklist{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// push appends a job. Jobs pushed after finish or abort are dropped.
func (w *worklist) push(j fileJob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done || w.aborted {
		return false
	}
	w.items = append(w.items, j)
	w.cond.Signal()
	return true
}

// pop blocks until a job is available or the queue is terminated. The
// second return is false once the queue is finished-and-drained or
// aborted.
func (w *worklist) pop() (fileJob, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if w.aborted {
			return fileJob{}, false
		}
		if len(w.items) > 0 {
			j := w.items[0]
			w.items = w.items[1:]
			return j, true
		}
		if w.done {
			return fileJob{}, false
		}
		w.cond.Wait()
	}
}

// finish marks the producer side complete; the consumer drains what is
// queued and then stops.
func (w *worklist) finish() {
	w.mu.Lock()
	w.done = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// abort drops all pending jobs and wakes the consumer immediately.
func (w *worklist) abort() {
	w.mu.Lock()
	w.items = nil
	w.aborted = true
	w.cond.Broadcast()
	w.mu.Unlock()
}
