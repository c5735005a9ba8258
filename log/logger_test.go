package log

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level logrus.Level) (*Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	lr := logrus.New()
	lr.SetOutput(&buf)
	lr.SetLevel(level)
	lr.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	return New(lr, "s1"), &buf
}

func TestLoggerCategoryFilter(t *testing.T) {
	// color.NoColor is package state; keep it stable for the assertions.
	color.NoColor = true

	tests := []struct {
		name     string
		filter   string
		category string
		logged   bool
	}{
		{name: "no_filter", filter: "", category: "Compositor:tick", logged: true},
		{name: "match", filter: "^Compositor", category: "Compositor:tick", logged: true},
		{name: "no_match", filter: "^Pacer", category: "Compositor:tick", logged: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBufferLogger(t, logrus.DebugLevel)
			require.NoError(t, l.SetCategoryFilter(tt.filter))

			l.Debugf(tt.category, "pipeline %s", "p1")

			if !tt.logged {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), "pipeline p1")
			assert.Contains(t, buf.String(), "category=\"Compositor:tick\"")
			assert.Contains(t, buf.String(), "session_id=s1")
		})
	}
}

func TestLoggerLevel(t *testing.T) {
	color.NoColor = true

	l, buf := newBufferLogger(t, logrus.WarnLevel)
	assert.False(t, l.DebugMode())

	l.Debugf("Compositor:tick", "hidden")
	assert.Empty(t, buf.String())

	l.Warnf("Compositor:tick", "shown")
	assert.Contains(t, buf.String(), "shown")
	assert.NotContains(t, buf.String(), "session_id", "session id is only attached above info level")

	require.NoError(t, l.SetLevel("debug"))
	assert.True(t, l.DebugMode())
	assert.Error(t, l.SetLevel("loud"))
	assert.Error(t, l.SetCategoryFilter("("))
}

func TestNilLoggerIsSilent(t *testing.T) {
	t.Parallel()

	var l *Logger
	assert.NotPanics(t, func() { l.Warnf("Compositor:tick", "nothing") })
	assert.False(t, l.DebugMode())
	assert.NotPanics(t, func() { NewNullLogger().Errorf("Compositor:tick", "discarded") })
}
