// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"testing"
	"time"

	"github.com/absmach/fluxloan/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupJournal(t *testing.T) (*Journal, string) {
	t.Helper()

	dir := t.TempDir()
	j, err := New(Config{Dir: dir})
	require.NoError(t, err)
	return j, dir
}

func TestJournal_AppendGet(t *testing.T) {
	j, _ := setupJournal(t)
	defer j.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	payload := []byte{0x01, 0x02, 0x03}
	seq, err := j.Append(&storage.Record{Topic: "sensors/t1", Payload: payload, PublishedAt: now})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	payload[0] = 0xFF

	rec, err := j.Get("sensors/t1", seq)
	require.NoError(t, err)
	assert.Equal(t, seq, rec.Seq)
	assert.Equal(t, "sensors/t1", rec.Topic)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, rec.Payload)
	assert.True(t, now.Equal(rec.PublishedAt))
}

func TestJournal_GetNotFound(t *testing.T) {
	j, _ := setupJournal(t)
	defer j.Close()

	_, err := j.Get("sensors/t1", 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJournal_ListIsolatesTopics(t *testing.T) {
	j, _ := setupJournal(t)
	defer j.Close()

	// "a" must not see records of "a/b" or "ab" even though they share bytes.
	for _, topic := range []string{"a", "a/b", "ab", "a"} {
		_, err := j.Append(&storage.Record{Topic: topic, Payload: []byte(topic)})
		require.NoError(t, err)
	}

	recs, err := j.List("a")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, uint64(2), recs[1].Seq)

	recs, err = j.List("a/b")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a/b", string(recs[0].Payload))

	recs, err = j.List("none")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestJournal_ListOrderPastByteBoundary(t *testing.T) {
	j, _ := setupJournal(t)
	defer j.Close()

	for i := 0; i < 300; i++ {
		_, err := j.Append(&storage.Record{Topic: "t", Payload: []byte{byte(i)}})
		require.NoError(t, err)
	}

	recs, err := j.List("t")
	require.NoError(t, err)
	require.Len(t, recs, 300)
	for i := 1; i < len(recs); i++ {
		assert.Less(t, recs[i-1].Seq, recs[i].Seq)
	}
}

func TestJournal_Reopen(t *testing.T) {
	j, dir := setupJournal(t)

	_, err := j.Append(&storage.Record{Topic: "t", Payload: []byte("first")})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j2, err := New(Config{Dir: dir})
	require.NoError(t, err)
	defer j2.Close()

	seq, err := j2.Append(&storage.Record{Topic: "t", Payload: []byte("second")})
	require.NoError(t, err)
	assert.Greater(t, seq, uint64(1))

	recs, err := j2.List("t")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "first", string(recs[0].Payload))
	assert.Equal(t, "second", string(recs[1].Payload))
}

func TestJournal_Closed(t *testing.T) {
	j, _ := setupJournal(t)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	_, err := j.Append(&storage.Record{Topic: "t"})
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = j.Get("t", 1)
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = j.List("t")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestJournal_AsSink(t *testing.T) {
	j, _ := setupJournal(t)
	sink := storage.NewSink(j)

	require.NoError(t, sink.Deliver("sensors/t1", []byte("x")))
	recs, err := j.List("sensors/t1")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, sink.Close())
}
