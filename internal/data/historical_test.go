package data

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoom-core/internal/order"
	"kiwoom-core/pkg/exchanges/common"
)

func TestLoadCSV(t *testing.T) {
	in := `symbol,ts,open,high,low,close,volume
000660,2024-01-03,101,104,99,103,1500
005930,2024-01-02 09:05,70000,70500,69800,70100,1200
005930,20240103,70100,71000,70000,70900,900
`
	bars, err := LoadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, "005930", bars[0].Symbol)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 5, 0, 0, common.KST), bars[0].Time)
	assert.Equal(t, 70100.0, bars[0].Close)
	assert.Equal(t, int64(1200), bars[0].Volume)
	// Same timestamp: ordered by symbol.
	assert.Equal(t, "000660", bars[1].Symbol)
	assert.Equal(t, "005930", bars[2].Symbol)
}

func TestLoadCSVWithoutHeaderAndEpoch(t *testing.T) {
	bars, err := LoadCSV(strings.NewReader("AAA,1704153600,1,2,0.5,1.5,10\n"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Time.Equal(time.Unix(1704153600, 0)))
}

func TestLoadCSVErrors(t *testing.T) {
	cases := map[string]string{
		"short row":     "AAA,2024-01-02,1,2,3\n",
		"bad timestamp": "AAA,yesterday,1,2,0.5,1.5,10\n",
		"bad price":     "AAA,2024-01-02,x,2,0.5,1.5,10\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCSV(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestDailyBarsMergesCodes(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, common.KST)
	broker := order.NewPaperBroker(order.PaperConfig{InitialDeposit: 1, Seed: 1, Now: func() time.Time { return now }})
	svc := NewHistoricalService(broker)

	bars, err := svc.DailyBars(context.Background(), []string{"005930", "000660"}, 10)
	require.NoError(t, err)
	require.Len(t, bars, 20)
	for i := 1; i < len(bars); i++ {
		assert.False(t, bars[i].Time.Before(bars[i-1].Time))
	}
	assert.Equal(t, "000660", bars[0].Symbol)
	assert.Equal(t, "005930", bars[1].Symbol)
}
