package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"stonkbot/internal/game"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func promptInstrument(label string) (string, error) {
	for {
		name, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		name = strings.ToUpper(strings.TrimSpace(name))
		if err := game.ValidateInstrument(name); err != nil {
			printWarn(err.Error())
			continue
		}
		return name, nil
	}
}

func renderAccount(a game.Account) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(a.UserID))
	fmt.Printf("%-10s %14s\n", "WALLET", "$"+comma(a.Wallet))
	fmt.Printf("%-10s %14s\n", "BANK", "$"+comma(a.Bank))
	fmt.Printf("%-10s %14s\n", "WEALTH", "$"+comma(a.Wealth()))
	if a.LastInterestAt != nil {
		fmt.Printf("%-10s %s\n", "INTEREST", a.LastInterestAt.Local().Format("2006-01-02 15:04"))
	}
	if a.LastActionAt != nil {
		fmt.Printf("%-10s %s\n", "WORKED", a.LastActionAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Println()
}

func renderMarket(prices []game.Instrument) {
	accent.Println("\n== STOCK MARKET ==")
	if len(prices) == 0 {
		printInfo("No stocks available in the market.")
		return
	}
	fmt.Printf("%-20s %12s\n", "STOCK", "PRICE")
	for _, p := range prices {
		fmt.Printf("%-20s %12s\n", truncate(p.Name, 20), "$"+comma(p.Price))
	}
	fmt.Println()
}

func renderTrend(name string, series []game.SeriesPoint) {
	accent.Printf("\n== %s TREND ==\n", name)
	if len(series) == 0 {
		printInfo("No historical data for this stock.")
		return
	}
	fmt.Printf("%-12s %12s %10s\n", "DATE", "PRICE", "CHANGE")
	prev := series[0].Value
	for _, p := range series {
		fmt.Printf("%-12s %12s %10s\n", p.Label, "$"+comma(p.Value), colorizeDelta(p.Value-prev))
		prev = p.Value
	}
	fmt.Println()
}

func renderLeaderboard(rows []game.WealthRow) {
	accent.Println("\n== TOP WEALTHIEST USERS ==")
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-24s %14s\n", "RANK", "USER", "WEALTH")
	for _, row := range rows {
		fmt.Printf("%-6d %-24s %14s\n", row.Rank, truncate(row.UserID, 24), "$"+comma(row.Wealth))
	}
	fmt.Println()
}

func renderPortfolio(held []game.Holding) {
	accent.Println("\n== PORTFOLIO ==")
	if len(held) == 0 {
		printInfo("You don't own any stocks yet.")
		return
	}
	fmt.Printf("%-20s %10s %12s %14s\n", "STOCK", "QTY", "PRICE", "VALUE")
	var total int64
	for _, h := range held {
		fmt.Printf("%-20s %10s %12s %14s\n", truncate(h.Instrument, 20), comma(h.Quantity), "$"+comma(h.Price), "$"+comma(h.MarketValue))
		total += h.MarketValue
	}
	fmt.Printf("%-20s %10s %12s %14s\n", "TOTAL", "", "", "$"+comma(total))
	fmt.Println()
}

func renderTrade(t game.TradeResult) {
	verb := "Bought"
	delta := -t.Notional
	if t.Side == game.SideSell {
		verb = "Sold"
		delta = t.Notional
	}
	printSuccess(fmt.Sprintf("%s %s %s at $%s.", verb, comma(t.Quantity), t.Instrument, comma(t.Price)))
	fmt.Printf("%-10s %s\n", "WALLET", colorizeDelta(delta))
	fmt.Printf("%-10s %s\n", "HOLDING", comma(t.Holding))
	fmt.Printf("%-10s %s\n", "TRADE", t.TradeID)
	renderAccount(t.Account)
}

func colorizeDelta(v int64) string {
	text := signed(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func signed(v int64) string {
	if v > 0 {
		return "+$" + comma(v)
	}
	if v < 0 {
		return "-$" + comma(-v)
	}
	return "$0"
}

func comma(v int64) string {
	if v < 0 {
		return "-" + comma(-v)
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
