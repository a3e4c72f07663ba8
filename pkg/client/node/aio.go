package node

import "context"

// BeginAIO counts an I/O operation in flight. The first one closes the
// gate.
func (n *Inode) BeginAIO() {
	n.aioMu.Lock()
	n.aioCount++
	if n.aioCount == 1 {
		n.aioGate <- struct{}{}
	}
	n.aioMu.Unlock()
	n.fs.Metrics().AIOStarted()
}

// EndAIO finishes an operation started with BeginAIO. The last one opens
// the gate.
func (n *Inode) EndAIO() {
	n.aioMu.Lock()
	n.aioCount--
	if n.aioCount == 0 {
		<-n.aioGate
	}
	n.aioMu.Unlock()
	n.fs.Metrics().AIOFinished()
}

// AIOCount returns the number of operations in flight.
func (n *Inode) AIOCount() int {
	n.aioMu.Lock()
	defer n.aioMu.Unlock()
	return n.aioCount
}

// WaitAIO blocks until no operation is in flight or ctx ends.
func (n *Inode) WaitAIO(ctx context.Context) error {
	select {
	case n.aioGate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-n.aioGate
	return nil
}
