package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	data := []byte(`{"action":"start","stream_id":"1234","url":"rtsp://example.com","type":"rtsp","fps":10}`)

	cmd, err := ParseCommand(data)
	require.NoError(t, err)

	assert.Equal(t, "start", cmd.Action)
	assert.Equal(t, "1234", cmd.StreamID)
	assert.Equal(t, "rtsp://example.com", cmd.URL)
	assert.Equal(t, "rtsp", cmd.Type)
	assert.Equal(t, 10, cmd.FPS)
}

func TestParseCommandInvalidJSON(t *testing.T) {
	_, err := ParseCommand([]byte(`not json`))
	assert.Error(t, err)
}

func TestManagerActiveCountEmpty(t *testing.T) {
	m := NewManager(nil, nil, nil, 640)
	assert.Equal(t, 0, m.ActiveCount())
	m.StopAll() // must not panic with no active streams
}
