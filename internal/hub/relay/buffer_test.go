package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	b := NewBuffer()
	b.Put("t1", Entry{Data: []byte("hello"), FileName: "hello.txt", FileType: "text/plain"})

	e, ok := b.Get("t1")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), e.Data)
	assert.Equal(t, "hello.txt", e.FileName)
	// Relative path defaults to the file name for flat uploads.
	assert.Equal(t, "hello.txt", e.RelativePath)
	assert.False(t, e.UploadedAt.IsZero())

	_, ok = b.Get("missing")
	assert.False(t, ok)
}

func TestPutReplacesEarlierEntry(t *testing.T) {
	b := NewBuffer()
	b.Put("t1", Entry{Data: []byte("v1"), FileName: "a.txt"})
	b.Put("t1", Entry{Data: []byte("v2"), FileName: "a.txt"})

	e, ok := b.Get("t1")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), e.Data)
}

func TestAuthorize(t *testing.T) {
	b := NewBuffer()
	assert.False(t, b.Authorized("t1"))
	b.Authorize("t1")
	assert.True(t, b.Authorized("t1"))
}

func TestMarkProcessedIsOneShot(t *testing.T) {
	b := NewBuffer()
	assert.False(t, b.Processed("t1"))
	assert.True(t, b.MarkProcessed("t1"))
	assert.False(t, b.MarkProcessed("t1"))
	assert.True(t, b.Processed("t1"))
}

func TestUnusedEntryExpires(t *testing.T) {
	b := NewBuffer()
	b.UnusedTTL = 20 * time.Millisecond

	b.Authorize("t1")
	b.Put("t1", Entry{Data: []byte("x"), FileName: "x.bin"})

	require.True(t, b.Has("t1"))
	time.Sleep(60 * time.Millisecond)
	assert.False(t, b.Has("t1"))
	// Expiry drops the acceptance flag along with the payload.
	assert.False(t, b.Authorized("t1"))
}

func TestGetExtendsRetention(t *testing.T) {
	b := NewBuffer()
	b.UnusedTTL = 20 * time.Millisecond
	b.DownloadedTTL = 150 * time.Millisecond

	b.Put("t1", Entry{Data: []byte("x"), FileName: "x.bin"})
	_, ok := b.Get("t1")
	require.True(t, ok)

	// Past the unused TTL but inside the downloaded TTL.
	time.Sleep(60 * time.Millisecond)
	assert.True(t, b.Has("t1"))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, b.Has("t1"))
}

func TestDiscard(t *testing.T) {
	b := NewBuffer()
	b.Authorize("t1")
	b.Put("t1", Entry{Data: []byte("x"), FileName: "x.bin"})

	b.Discard("t1")
	assert.False(t, b.Has("t1"))
	assert.False(t, b.Authorized("t1"))
}
