package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	RemainCoins string `json:"remain_coins"`
	Running     int    `json:"running"`
}

func TestCacheJSONRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := New(1 << 20)
	require.NoError(t, err)
	defer c.Close()

	var miss account
	assert.False(t, c.GetJSON("account", &miss))

	require.NoError(t, c.SetJSON("account", account{RemainCoins: "120", Running: 2}, time.Minute))

	var got account
	require.True(t, c.GetJSON("account", &got))
	assert.Equal(t, account{RemainCoins: "120", Running: 2}, got)

	c.Delete("account")
	assert.False(t, c.GetJSON("account", &got))
}

func TestCacheRejectsUnencodableValue(t *testing.T) {
	t.Parallel()

	c, err := New(1 << 20)
	require.NoError(t, err)
	defer c.Close()

	err = c.SetJSON("bad", make(chan int), time.Minute)
	assert.Error(t, err)
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	t.Parallel()

	_, err := New(0)
	assert.Error(t, err)
}
