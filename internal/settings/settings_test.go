package settings

import (
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/ublock-dnr-engine/internal/models"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.Set("filtering.level", "optimal")
	v.Set("lists", []map[string]any{
		{"name": "easylist", "url": "https://easylist.to/easylist/easylist.txt", "enabled": true},
		{"name": "disabled", "url": "https://example.com/off.txt", "enabled": false},
	})
	return v
}

func TestCurrent(t *testing.T) {
	s := New(newViper(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, models.LevelOptimal, cur.Level)
	require.Len(t, cur.Lists, 2)
	assert.Equal(t, "easylist", cur.Lists[0].Name)
	assert.True(t, cur.Lists[0].Enabled)
	assert.False(t, cur.Lists[1].Enabled)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	v := newViper()
	s := New(v, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var got []Settings
	s.Subscribe(func(cur Settings) {
		got = append(got, cur)
	})

	v.Set("filtering.level", "basic")
	s.notify()

	require.Len(t, got, 1)
	assert.Equal(t, models.LevelBasic, got[0].Level)

	// Every subscriber sees every change.
	var second []Settings
	s.Subscribe(func(cur Settings) {
		second = append(second, cur)
	})

	v.Set("filtering.level", "off")
	s.notify()

	require.Len(t, got, 2)
	require.Len(t, second, 1)
	assert.Equal(t, models.LevelOff, second[0].Level)
}
