package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	require.NoError(t, Setup("warn", "json", &buf))
	log.Info().Msg("hidden")
	log.Warn().Str("code", "005930").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"code":"005930"`)

	assert.Error(t, Setup("loud", "json", &buf))
	assert.Error(t, Setup("info", "xml", &buf))

	buf.Reset()
	require.NoError(t, Setup("info", "auto", &buf))
	log.Info().Msg("plain")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "non-terminal output stays JSON")
}

func TestBatchProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewBatchProgress("evaluate", 3, &buf)
	p.Done("A", true)
	p.Done("B", false)
	p.Done("C", true)
	p.Finish()

	done, allowed := p.Counts()
	assert.Equal(t, 3, done)
	assert.Equal(t, 2, allowed)
	assert.Empty(t, buf.String(), "no bar when not a terminal")

	p.interactive = true
	assert.Contains(t, p.render("C"), "3/3")
}
