package progress

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBarCompletesOnChunks(t *testing.T) {
	p := NewWithOutput(io.Discard)
	bar := p.NewBar(10_000, "photo.jpg")

	for _, n := range []int{4096, 4096, 1808} {
		bar.Add(n)
	}

	p.Wait()

	assert.True(t, bar.Completed())
	assert.Equal(t, int64(10_000), bar.Current())
}

func TestEmptyFileBar(t *testing.T) {
	p := NewWithOutput(io.Discard)
	bar := p.NewBar(0, "empty.txt")

	bar.Add(0)
	bar.Done()

	p.Wait()
	assert.True(t, bar.Completed())
}

func TestAbortedBarStops(t *testing.T) {
	p := NewWithOutput(io.Discard)
	bar := p.NewBar(100, "big.iso")

	bar.Add(10)
	bar.Abort()

	p.Wait()
	assert.False(t, bar.Completed())
}
