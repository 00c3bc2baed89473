package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
)

type cliHarness struct {
	t  *testing.T
	db string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("SIM_SEED", "7")
	return &cliHarness{t: t, db: filepath.Join(t.TempDir(), "paper.db")}
}

func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	app := newApp()
	var buf bytes.Buffer
	app.Writer = &buf
	err := app.Run(append([]string{"paperctl", "--db", h.db}, args...))
	return buf.String(), err
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func submittedID(t *testing.T, out string) string {
	t.Helper()
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 2, out)
	require.Equal(t, "submitted", fields[0])
	return fields[1]
}

func TestCLI_OrderLifecycle(t *testing.T) {
	h := newCLIHarness(t)

	out := h.mustRun("deposit", "-p", "p1", "--amount", "10000")
	assert.Equal(t, "p1\tUSD\t10000.00\n", out)

	buyID := submittedID(t, h.mustRun("submit", "-p", "p1", "-s", "aapl", "--side", "buy", "-q", "10"))

	out = h.mustRun("process", "--price", "AAPL=100")
	assert.Contains(t, out, buyID+"\tfilled 10 @ ")

	out = h.mustRun("positions", "-p", "p1")
	assert.Contains(t, out, "cash\tUSD\t")
	assert.Contains(t, out, "position\tAAPL\t10\t")

	sellID := submittedID(t, h.mustRun("submit", "-p", "p1", "-s", "AAPL", "--side", "SELL", "-t", "limit", "-q", "10", "--limit", "120"))
	out = h.mustRun("process", "--price", "AAPL=110")
	assert.Contains(t, out, sellID+"\torder trigger condition not met")

	out = h.mustRun("cancel", sellID)
	assert.Equal(t, sellID+"\tCANCELLED\n", out)

	_, err := h.run("cancel", sellID)
	assert.ErrorIs(t, err, domain.ErrOrderNotPending)

	out = h.mustRun("report", "-p", "p1")
	assert.Contains(t, out, "fills\t1 (buys 1, sells 0)")
	assert.Contains(t, out, "symbol\tAAPL\tfills 1\tbought 10\tsold 0")
}

func TestCLI_SubmitRejectsInvalidOrders(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("submit", "-p", "p1", "-s", "AAPL", "-t", "LIMIT", "-q", "10")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = h.run("submit", "-p", "p1", "-s", "AAPL", "--side", "HOLD", "-q", "10")
	assert.Error(t, err)

	_, err = h.run("submit", "-p", "p1", "-s", "AAPL")
	assert.EqualError(t, err, "--qty is required")
}

func TestCLI_Commission(t *testing.T) {
	h := newCLIHarness(t)

	out := h.mustRun("commission", "--value", "1000", "--qty", "200", "--side", "sell", "--model", "per_share")
	assert.Contains(t, out, "per_share\t1.00\n")
	assert.Contains(t, out, "sec_fee\t")
	assert.Contains(t, out, "total\t")

	out = h.mustRun("commission", "--value", "1000", "--qty", "200")
	assert.NotContains(t, out, "sec_fee")
}

func TestCLI_Replay(t *testing.T) {
	h := newCLIHarness(t)
	ticks := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(ticks, []byte(
		"time,symbol,price,condition\n"+
			"2024-03-15T14:30:00Z,AAPL,100,NORMAL\n"+
			"2024-03-15T14:31:00Z,AAPL,105,NORMAL\n"+
			"2024-03-15T14:32:00Z,AAPL,111,VOLATILE\n"), 0o644))

	out := h.mustRun("replay", "--ticks", ticks, "-p", "sim", "--cash", "5000",
		"--order", "BUY:MARKET:AAPL:10", "--order", "sell:limit:aapl:10:110")
	assert.Contains(t, out, "ticks\t3\n")
	assert.Contains(t, out, "batches\t3\n")
	assert.Contains(t, out, "executed\t2\n")
	assert.Contains(t, out, "fills\t2 (buys 1, sells 1)")

	// Nothing reached the database.
	out = h.mustRun("positions", "-p", "sim")
	assert.Empty(t, out)
}

func TestCLI_ReplayFromDatabase(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("deposit", "-p", "p1", "--amount", "10000")
	h.mustRun("submit", "-p", "p1", "-s", "AAPL", "-q", "5")

	ticks := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(ticks, []byte("time,symbol,price,condition\n2024-03-15T14:30:00Z,AAPL,100,\n"), 0o644))

	out := h.mustRun("replay", "--ticks", ticks, "-p", "p1", "--from-db")
	assert.Contains(t, out, "executed\t1\n")
	assert.Contains(t, out, "position\tAAPL\t5\t100\n")

	// The stored order is still pending.
	out = h.mustRun("process", "--price", "MSFT=1")
	assert.Empty(t, out)
}

func TestParsePrices(t *testing.T) {
	prices, err := parsePrices([]string{"aapl=145.5", "MSFT=400"})
	require.NoError(t, err)
	assert.Equal(t, "145.5", prices["AAPL"].String())
	assert.Equal(t, "400", prices["MSFT"].String())

	_, err = parsePrices([]string{"AAPL"})
	assert.Error(t, err)
	_, err = parsePrices([]string{"AAPL=cheap"})
	assert.Error(t, err)
}

func TestParseOrderSpec(t *testing.T) {
	at := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

	o, err := parseOrderSpec("buy:stop_limit:aapl:10:146:145", "p1", "USD", at)
	require.NoError(t, err)
	assert.Equal(t, domain.Buy, o.Side)
	assert.Equal(t, domain.OrderTypeStopLimit, o.Type)
	assert.Equal(t, "AAPL", o.Symbol)
	assert.Equal(t, "146", o.LimitPrice.String())
	assert.Equal(t, "145", o.StopPrice.String())
	assert.True(t, o.SubmittedAt.Equal(at))

	o, err = parseOrderSpec("SELL:STOP:AAPL:3:90", "p1", "USD", at)
	require.NoError(t, err)
	assert.Nil(t, o.LimitPrice)
	assert.Equal(t, "90", o.StopPrice.String())

	_, err = parseOrderSpec("SELL:LIMIT:AAPL:3", "p1", "USD", at)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = parseOrderSpec("SELL:AAPL:3", "p1", "USD", at)
	assert.Error(t, err)
	_, err = parseOrderSpec("SELL:MARKET:AAPL:x", "p1", "USD", at)
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("2024-03-15")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))

	got, err = parseTime("2024-03-15T14:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 14, got.Hour())

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}
