/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package worker

import "sync"

// Pool is a fixed-size goroutine pool draining a mutex+condvar-guarded
// FIFO of Tasks. It is the general-purpose counterpart of DBPool: work
// handed to it runs off the reactor thread but touches no exclusive
// resource, so any number of workers may run concurrently.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	run    bool
	wg     sync.WaitGroup
	handle func(Task)
}

// NewPool starts n worker goroutines, each pulling tasks from the shared
// FIFO and applying handle to them in the order they were submitted.
func NewPool(n int, handle func(Task)) *Pool {
	p := &Pool{run: true, handle: handle}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && p.run {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.handle(t)
	}
}

// Submit enqueues t. It reports false, rejecting the task, once Stop has
// been called — tasks submitted after shutdown are never run.
func (p *Pool) Submit(t Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.run {
		return false
	}
	p.queue = append(p.queue, t)
	p.cond.Signal()
	return true
}

// Stop flips the run flag and wakes every worker. Each worker finishes
// draining whatever remains in the queue at the moment Stop is called,
// then returns; no task already running is interrupted. Stop blocks
// until every worker has exited.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.run = false
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}
