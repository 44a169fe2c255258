package queue

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qr-spider/pkg/models"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func entry(url string, depth int) models.FrontierEntry {
	return models.FrontierEntry{URL: url, Depth: depth}
}

func TestFrontier_FIFOOrder(t *testing.T) {
	f := NewFrontier(testLogger())
	require.True(t, f.Push(entry("https://example.com/a", 1)))
	require.True(t, f.Push(entry("https://example.com/b", 0)))
	require.True(t, f.Push(entry("https://example.com/c", 2)))

	var got []string
	for {
		e, ok := f.Pop()
		if !ok {
			break
		}
		got = append(got, e.URL)
	}
	assert.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, got, "depth must not reorder a FIFO frontier")
}

func TestFrontier_RejectsQueuedDuplicates(t *testing.T) {
	f := NewFrontier(testLogger())
	assert.True(t, f.Push(entry("https://example.com/a", 1)))
	assert.False(t, f.Push(entry("https://example.com/a", 2)))
	assert.False(t, f.Push(entry("https://EXAMPLE.com/a#frag", 1)), "normalized duplicates are the same URL")
	assert.True(t, f.Push(entry("https://example.com/a?x=1", 1)), "query strings distinguish pages")
	assert.Equal(t, 2, f.Len())
}

func TestFrontier_RejectsVisited(t *testing.T) {
	f := NewFrontier(testLogger())
	assert.True(t, f.MarkVisited("https://example.com/"))
	assert.False(t, f.MarkVisited("https://example.com"))
	assert.False(t, f.Push(entry("https://example.com/", 1)))
	assert.False(t, f.MarkVisited("HTTPS://example.com:443/"), "default port and case fold")
}

func TestFrontier_PopClearsQueuedMark(t *testing.T) {
	f := NewFrontier(testLogger())
	f.Push(entry("https://example.com/a", 0))
	assert.False(t, f.Push(entry("https://example.com/a", 1)), "already queued")

	e, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", e.URL)

	// popped but not visited yet: may be re-queued
	assert.True(t, f.Push(entry("https://example.com/a", 1)))
}

func TestFrontier_PopEmpty(t *testing.T) {
	f := NewFrontier(testLogger())
	_, ok := f.Pop()
	assert.False(t, ok)
}

func TestFrontier_Compaction(t *testing.T) {
	f := NewFrontier(testLogger())
	for i := range 300 {
		require.True(t, f.Push(entry(fmt.Sprintf("https://example.com/p%d", i), 1)))
	}
	for i := range 250 {
		e, ok := f.Pop()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("https://example.com/p%d", i), e.URL)
	}
	assert.Equal(t, 50, f.Len())
	e, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/p250", e.URL)
}

func TestFrontier_Close(t *testing.T) {
	f := NewFrontier(testLogger())
	f.Push(entry("https://example.com/a", 0))
	f.MarkVisited("https://example.com/b")

	f.Close()
	f.Close() // idempotent

	assert.Equal(t, 0, f.Len())
	assert.False(t, f.Push(entry("https://example.com/c", 0)))
	assert.False(t, f.MarkVisited("https://example.com/b"), "visited set survives Close")
}

func TestFrontier_ConcurrentPush(t *testing.T) {
	f := NewFrontier(testLogger())
	var wg sync.WaitGroup
	accepted := make(chan bool, 100)

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted <- f.Push(entry("https://example.com/same", 1))
		}()
	}
	wg.Wait()
	close(accepted)

	count := 0
	for ok := range accepted {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, f.Len())
}
