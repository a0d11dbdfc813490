package pglog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hybridsearch/queue"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	offset int64
	key    []byte
	value  []byte
}

// fakeDB serves the consumer queries from memory and can fail reads of one
// partition.
type fakeDB struct {
	mu        sync.Mutex
	entries   map[queue.TopicPartition][]entry
	committed map[string]int64
	failOn    map[int32]error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		entries:   make(map[queue.TopicPartition][]entry),
		committed: make(map[string]int64),
		failOn:    make(map[int32]error),
	}
}

func (f *fakeDB) add(topic string, partition int32, values ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tp := queue.TopicPartition{Topic: topic, Partition: partition}
	for _, v := range values {
		f.entries[tp] = append(f.entries[tp], entry{offset: int64(len(f.entries[tp])), value: []byte(v)})
	}
}

func offsetKey(group, topic string, partition int32) string {
	return group + "|" + topic + "|" + string(rune('0'+partition))
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("not supported")
}

func (f *fakeDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	topic, partition, from, limit := args[0].(string), args[1].(int32), args[2].(int64), args[3].(int)
	if err := f.failOn[partition]; err != nil {
		return nil, err
	}
	var out []entry
	for _, e := range f.entries[queue.TopicPartition{Topic: topic, Partition: partition}] {
		if e.offset >= from && len(out) < limit {
			out = append(out, e)
		}
	}
	return &fakeRows{entries: out, pos: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	off, ok := f.committed[offsetKey(args[0].(string), args[1].(string), args[2].(int32))]
	return fakeRow{offset: off, found: ok}
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range b.QueuedQueries {
		a := q.Arguments
		k := offsetKey(a[0].(string), a[1].(string), a[2].(int32))
		if next := a[3].(int64); next > f.committed[k] {
			f.committed[k] = next
		}
	}
	return fakeBatchResults{}
}

type fakeRow struct {
	offset int64
	found  bool
}

func (r fakeRow) Scan(dest ...any) error {
	if !r.found {
		return pgx.ErrNoRows
	}
	*dest[0].(*int64) = r.offset
	return nil
}

type fakeRows struct {
	entries []entry
	pos     int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.entries)
}

func (r *fakeRows) Scan(dest ...any) error {
	e := r.entries[r.pos]
	*dest[0].(*int64) = e.offset
	*dest[1].(*[]byte) = e.key
	*dest[2].(*[]byte) = e.value
	return nil
}

type fakeBatchResults struct{}

func (fakeBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, nil }
func (fakeBatchResults) Query() (pgx.Rows, error)         { return &fakeRows{pos: -1}, nil }
func (fakeBatchResults) QueryRow() pgx.Row                { return fakeRow{} }
func (fakeBatchResults) Close() error                     { return nil }

func offsets(msgs []queue.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Offset
	}
	return out
}

func TestFailedPollDoesNotSkipEntries(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	db.add("t", 0, "a", "b", "c")
	db.add("t", 1, "d", "e")
	db.failOn[1] = errors.New("connection reset")

	c := New(db, 2).Consumer("g", []string{"t"})

	_, err := c.ConsumeBatch(ctx, 10, 10*time.Millisecond)
	require.Error(t, err)
	assert.False(t, queue.IsFatal(err))

	delete(db.failOn, 1)
	b, err := c.ConsumeBatch(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 5, b.Len())
	assert.Equal(t, []int64{0, 1, 2, 0, 1}, offsets(b.Messages))
	assert.Equal(t, "a", string(b.Messages[0].Value))
}

func TestReleaseRedeliversAndCommitPersists(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	db.add("t", 0, "a", "b", "c")

	log := New(db, 1, WithPollInterval(time.Millisecond))
	c := log.Consumer("g", []string{"t"})

	b, err := c.ConsumeBatch(ctx, 2, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, offsets(b.Messages))
	b.Release()

	b, err = c.ConsumeBatch(ctx, 2, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, offsets(b.Messages))
	require.NoError(t, b.Commit(ctx))
	assert.Equal(t, int64(2), db.committed[offsetKey("g", "t", 0)])

	// A new reader of the same group resumes after the committed offset.
	b, err = log.Consumer("g", []string{"t"}).ConsumeBatch(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, offsets(b.Messages))

	// Another group starts from the beginning.
	b, err = log.Consumer("other", []string{"t"}).ConsumeBatch(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Len())
}

func TestEmptyPollTimesOut(t *testing.T) {
	c := New(newFakeDB(), 1, WithPollInterval(time.Millisecond)).Consumer("g", []string{"t"})

	b, err := c.ConsumeBatch(context.Background(), 10, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Len())

	require.NoError(t, c.Close())
	_, err = c.ConsumeBatch(context.Background(), 10, 5*time.Millisecond)
	assert.True(t, queue.IsFatal(err))
}
