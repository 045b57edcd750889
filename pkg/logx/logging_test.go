package logx

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestWriterFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "batch"))
	log.Info("flushed", Hex("container", 0x14), Int("events", 3), Err(errors.New("boom")))
	log.Trace("hidden")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	require.Equal(t, "flushed", got[0]["message"])
	require.Equal(t, "batch", got[0]["comp"])
	require.Equal(t, "0x00000014", got[0]["container"])
	require.Equal(t, float64(3), got[0]["events"])
	require.Equal(t, "boom", got[0]["err"])
}

func TestServiceSamplesWarnings(t *testing.T) {
	var buf bytes.Buffer
	svc, log := New(Config{Level: "debug", SamplePerSec: 2, Out: &buf})
	defer svc.Close()

	for i := 0; i < 10; i++ {
		log.Warn("remap failed")
	}
	// Info is never sampled.
	log.Info("still here")

	got := lines(t, &buf)
	require.Len(t, got, 3)
	require.Equal(t, "still here", got[2]["message"])
	require.Equal(t, uint64(8), svc.Suppressed())

	svc.Apply(Config{Level: "debug", Out: &buf})
	buf.Reset()
	log.Warn("after")
	got = lines(t, &buf)
	require.Len(t, got, 1)
	require.Equal(t, float64(8), got[0]["suppressed"])
	require.Zero(t, svc.Suppressed())
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	require.True(t, zero.IsZero())
	zero.Error("ignored")
	require.False(t, Nop().IsZero())
}
