package crawler

import "sync"

// frontier is the FIFO work queue plus the visited set and the enqueue
// budget. The budget caps admissions at the page limit, which bounds
// scraped+failed without any coordination in the workers.
//
// Next blocks while the queue is empty but some entry is still in flight,
// because an in-flight entry may enqueue more work. It returns false once
// the crawl has quiesced or Drain was called.
type frontier struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue    []FrontierEntry
	visited  map[string]struct{}
	inflight int
	enqueued int
	budget   int
	draining bool
}

func newFrontier(budget int) *frontier {
	f := &frontier{
		visited: make(map[string]struct{}),
		budget:  budget,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// MarkVisited records a URL as already processed, consuming one unit of
// budget but no queue space. Used when resuming from a prior manifest:
// resumed pages count toward the page limit so a resumed run never reports
// more results than the limit allows.
func (f *frontier) MarkVisited(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[url]; seen {
		return
	}
	f.visited[url] = struct{}{}
	f.enqueued++
}

// MarkAndEnqueue atomically checks the visited set and, if the URL is new
// and budget remains, marks it visited and appends it to the queue. The
// check and the mark happen under one lock so two workers discovering the
// same URL admit it exactly once.
func (f *frontier) MarkAndEnqueue(e FrontierEntry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.draining {
		return false
	}
	if _, seen := f.visited[e.URL]; seen {
		return false
	}
	if f.enqueued >= f.budget {
		return false
	}

	f.visited[e.URL] = struct{}{}
	f.enqueued++
	f.queue = append(f.queue, e)
	f.cond.Broadcast()
	return true
}

// Next pops the oldest entry, blocking while more work may still arrive.
// The returned bool is false when the frontier has drained: queue empty
// and nothing in flight, or Drain was called.
func (f *frontier) Next() (FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if f.draining {
			return FrontierEntry{}, false
		}
		if len(f.queue) > 0 {
			e := f.queue[0]
			f.queue = f.queue[1:]
			f.inflight++
			return e, true
		}
		if f.inflight == 0 {
			return FrontierEntry{}, false
		}
		f.cond.Wait()
	}
}

// Done signals that an entry handed out by Next finished processing.
func (f *frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	f.cond.Broadcast()
}

// Drain stops handing out work. Queued entries are dropped; in-flight
// entries are unaffected and still finish.
func (f *frontier) Drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draining = true
	f.cond.Broadcast()
}

// Enqueued reports how many URLs have been admitted in total.
func (f *frontier) Enqueued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enqueued
}
