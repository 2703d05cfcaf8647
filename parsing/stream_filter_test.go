package parsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStreamFilter_WriteDecodedThenClose(t *testing.T) {
	t.Parallel()
	sf, err := NewStreamFilter(zaptest.NewLogger(t), nil, HandleRAG())
	require.NoError(t, err)

	sf.WriteDecoded("Grounded answer:")
	sf.WriteDecoded("hi there")
	sf.Close()

	var got []FilterOutput
	for {
		select {
		case o, ok := <-sf.Read():
			if !ok {
				require.Equal(t, "hi there", concatText(got))
				return
			}
			got = append(got, o)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream filter output")
		}
	}
}

func TestStreamFilter_WriteTracksRawTokens(t *testing.T) {
	t.Parallel()
	sf, err := NewStreamFilter(zaptest.NewLogger(t), stubDecoder{})
	require.NoError(t, err)

	require.NoError(t, sf.Write(1, nil))
	require.NoError(t, sf.Write(2, nil))
	sf.Close()
	for range sf.Read() {
	}
	require.Equal(t, []int64{1, 2}, sf.GetRawTokens())
}
