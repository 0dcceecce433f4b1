package testext

import (
	"bytes"
	"strings"
	"sync"
)

// Sequence records values from concurrently running code so tests can assert on what
// ran and in which order. Pair ResetWithWorkers() with WaitGroup() to block until the
// expected number of goroutines have reported in.
type Sequence struct {
	mutex  sync.Mutex
	values []string
	wg     *sync.WaitGroup
}

func (seq *Sequence) Append(value string) {
	seq.mutex.Lock()
	seq.values = append(seq.values, value)
	seq.mutex.Unlock()
}

// Value is the value at the index, or "" when nothing has been appended there yet.
func (seq *Sequence) Value(index int) string {
	values := seq.Values()
	if index < 0 || index >= len(values) {
		return ""
	}
	return values[index]
}

// Values is a copy of everything appended so far.
func (seq *Sequence) Values() []string {
	seq.mutex.Lock()
	defer seq.mutex.Unlock()
	return append([]string(nil), seq.values...)
}

// Last is the most recently appended value, or "".
func (seq *Sequence) Last() string {
	return seq.Value(len(seq.Values()) - 1)
}

func (seq *Sequence) WaitGroup() *sync.WaitGroup {
	seq.mutex.Lock()
	defer seq.mutex.Unlock()
	return seq.wg
}

// Reset clears the values so the sequence can be reused within a test.
func (seq *Sequence) Reset() {
	seq.ResetWithWorkers(0)
}

// ResetWithWorkers clears the values and arms a new wait group expecting count Done() calls.
func (seq *Sequence) ResetWithWorkers(count int) {
	wg := &sync.WaitGroup{}
	wg.Add(count)

	seq.mutex.Lock()
	seq.values = nil
	seq.wg = wg
	seq.mutex.Unlock()
}

// Buffer is an io.Writer that server goroutines can write to while the test reads from it.
type Buffer struct {
	mutex sync.Mutex
	data  bytes.Buffer
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.data.Write(p)
}

func (b *Buffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.data.String()
}

// Lines splits what has been written so far into lines, dropping blank ones.
func (b *Buffer) Lines() []string {
	return strings.FieldsFunc(b.String(), func(r rune) bool { return r == '\n' })
}
