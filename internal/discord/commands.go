package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stonkbot/internal/game"
	"stonkbot/internal/metrics"

	"github.com/bwmarrin/discordgo"
)

// Request is a slash command reduced to what the core needs.
type Request struct {
	UserID  string
	Admin   bool
	Command string
	Ints    map[string]int64
	Strings map[string]string
}

type Reply struct {
	Content   string
	Ephemeral bool
}

// Handler answers slash commands against the core components.
type Handler struct {
	Ledger   *game.Ledger
	Market   *game.Market
	Exchange *game.Exchange
	Query    *game.Query
	Metrics  *metrics.Registry
	Now      func() time.Time
	Log      *slog.Logger
}

var (
	minOne       = 1.0
	adminOnly    = int64(discordgo.PermissionAdministrator)
	amountOption = &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "amount",
		Description: "Amount of money",
		Required:    true,
		MinValue:    &minOne,
	}
	stockOption = &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "stock_name",
		Description: "Stock name",
		Required:    true,
	}
	quantityOption = &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "quantity",
		Description: "Number of shares",
		Required:    true,
		MinValue:    &minOne,
	}
)

// Commands is the slash command set registered with Discord.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: "balance", Description: "Check your balance."},
		{Name: "deposit", Description: "Deposit money into your bank.", Options: []*discordgo.ApplicationCommandOption{amountOption}},
		{Name: "withdraw", Description: "Withdraw money from your bank.", Options: []*discordgo.ApplicationCommandOption{amountOption}},
		{Name: "compound_interest", Description: "Apply compound interest to your bank balance."},
		{Name: "work", Description: "Work a shift for a wage."},
		{Name: "market", Description: "View stock prices."},
		{Name: "stock_trend", Description: "View the multi-day price trend of a stock.", Options: []*discordgo.ApplicationCommandOption{stockOption}},
		{Name: "leaderboard", Description: "View the leaderboard of the wealthiest users."},
		{Name: "buy", Description: "Buy shares at the current price.", Options: []*discordgo.ApplicationCommandOption{stockOption, quantityOption}},
		{Name: "sell", Description: "Sell shares at the current price.", Options: []*discordgo.ApplicationCommandOption{stockOption, quantityOption}},
		{Name: "portfolio", Description: "View your shares."},
		{Name: "update_market", Description: "Update stock prices (Admin only).", DefaultMemberPermissions: &adminOnly},
	}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func (h *Handler) observe(op string, err error) {
	if h.Metrics != nil {
		h.Metrics.ObserveOp(op, err)
	}
}

func (h *Handler) Dispatch(ctx context.Context, req Request) Reply {
	switch req.Command {
	case "balance":
		a, err := h.Ledger.GetOrCreate(ctx, req.UserID)
		if err != nil {
			return h.failure(req, err)
		}
		return Reply{Content: fmt.Sprintf("💰 Wallet: **$%d**\n🏦 Bank: **$%d**.", a.Wallet, a.Bank)}

	case "deposit":
		amount := req.Ints["amount"]
		a, err := h.Ledger.Deposit(ctx, req.UserID, amount)
		h.observe("deposit", err)
		if err != nil {
			return h.failure(req, err)
		}
		return Reply{Content: fmt.Sprintf("✅ Deposited **$%d** into your bank.\n🏦 New bank balance: **$%d**.", amount, a.Bank)}

	case "withdraw":
		amount := req.Ints["amount"]
		a, err := h.Ledger.Withdraw(ctx, req.UserID, amount)
		h.observe("withdraw", err)
		if err != nil {
			return h.failure(req, err)
		}
		return Reply{Content: fmt.Sprintf("✅ Withdrew **$%d** from your bank.\n💰 New wallet balance: **$%d**.", amount, a.Wallet)}

	case "compound_interest":
		out, err := h.Ledger.AccrueInterest(ctx, req.UserID, h.now())
		h.observe("interest", err)
		if err != nil {
			return h.failure(req, err)
		}
		return Reply{Content: fmt.Sprintf("🏦 Compound interest applied for %d day(s)!\nNew bank balance: **$%d**.", out.Days, out.Account.Bank)}

	case "work":
		out, err := h.Ledger.Work(ctx, req.UserID, h.now())
		h.observe("work", err)
		if err != nil {
			return h.failure(req, err)
		}
		return Reply{Content: fmt.Sprintf("🛠️ You earned **$%d**.\n💰 New wallet balance: **$%d**.", out.Wage, out.Account.Wallet)}

	case "market":
		prices, err := h.Market.CurrentPrices(ctx)
		if err != nil {
			return h.failure(req, err)
		}
		if len(prices) == 0 {
			return Reply{Content: "📉 No stocks available in the market."}
		}
		var b strings.Builder
		b.WriteString("**Stock Market**\n")
		for _, p := range prices {
			fmt.Fprintf(&b, "%s: **$%d**\n", p.Name, p.Price)
		}
		return Reply{Content: strings.TrimRight(b.String(), "\n")}

	case "stock_trend":
		name := strings.TrimSpace(req.Strings["stock_name"])
		samples, err := h.Query.TrendOf(ctx, name)
		if err != nil {
			return h.failure(req, err)
		}
		if len(samples) == 0 {
			return Reply{Content: "❌ No historical data found for this stock."}
		}
		return Reply{Content: renderTrend(name, game.HistorySeries(samples))}

	case "leaderboard":
		rows, err := h.Query.TopWealth(ctx, game.DefaultLeaderboardLimit)
		if err != nil {
			return h.failure(req, err)
		}
		if len(rows) == 0 {
			return Reply{Content: "❌ No data available for the leaderboard."}
		}
		return Reply{Content: renderLeaderboard(rows)}

	case "buy", "sell":
		name := strings.TrimSpace(req.Strings["stock_name"])
		qty := req.Ints["quantity"]
		var (
			out game.TradeResult
			err error
		)
		if req.Command == "buy" {
			out, err = h.Exchange.Buy(ctx, req.UserID, name, qty)
		} else {
			out, err = h.Exchange.Sell(ctx, req.UserID, name, qty)
		}
		h.observe(req.Command, err)
		if err != nil {
			return h.failure(req, err)
		}
		verb := "Bought"
		if out.Side == game.SideSell {
			verb = "Sold"
		}
		return Reply{Content: fmt.Sprintf("✅ %s **%d %s** at **$%d** for **$%d**.\n📦 You now hold %d.\n💰 Wallet: **$%d**.",
			verb, out.Quantity, out.Instrument, out.Price, out.Notional, out.Holding, out.Account.Wallet)}

	case "portfolio":
		held, err := h.Exchange.Portfolio(ctx, req.UserID)
		if err != nil {
			return h.failure(req, err)
		}
		if len(held) == 0 {
			return Reply{Content: "📦 You don't own any stocks yet.", Ephemeral: true}
		}
		var b strings.Builder
		b.WriteString("**Portfolio**\n")
		var total int64
		for _, p := range held {
			fmt.Fprintf(&b, "%s: %d × $%d = **$%d**\n", p.Instrument, p.Quantity, p.Price, p.MarketValue)
			total += p.MarketValue
		}
		fmt.Fprintf(&b, "Total: **$%d**", total)
		return Reply{Content: b.String(), Ephemeral: true}

	case "update_market":
		if !req.Admin {
			return Reply{Content: "❌ You need administrator permission to update the market.", Ephemeral: true}
		}
		err := h.Market.Evolve(ctx, h.now())
		h.observe("evolve", err)
		if err != nil {
			h.logger().Error("manual market update failed", "user_id", req.UserID, "err", err)
			return Reply{Content: "⚠️ Stock market updated with errors; some stocks were not updated.", Ephemeral: true}
		}
		if h.Metrics != nil {
			if prices, err := h.Market.CurrentPrices(ctx); err == nil {
				h.Metrics.SetPrices(prices)
			}
		}
		return Reply{Content: "📈 Stock market updated successfully."}
	}
	return Reply{Content: "❓ Unknown command.", Ephemeral: true}
}

func (h *Handler) failure(req Request, err error) Reply {
	var cd *game.CooldownError
	switch {
	case errors.As(err, &cd):
		what := "This action"
		switch cd.Action {
		case "interest":
			what = "Compound interest"
		case "work":
			what = "Work"
		}
		return Reply{Content: fmt.Sprintf("⏳ %s is on cooldown. Try again <t:%d:R>.", what, cd.RetryAt.Unix()), Ephemeral: true}
	case errors.Is(err, game.ErrInsufficientFunds):
		if req.Command == "withdraw" {
			return Reply{Content: "❌ You don't have enough money in your bank.", Ephemeral: true}
		}
		return Reply{Content: "❌ You don't have enough money in your wallet.", Ephemeral: true}
	case errors.Is(err, game.ErrInsufficientShares):
		return Reply{Content: "❌ You don't own that many shares.", Ephemeral: true}
	case errors.Is(err, game.ErrInvalidAmount):
		return Reply{Content: "❌ Amount must be greater than zero.", Ephemeral: true}
	case errors.Is(err, game.ErrInstrumentNotFound), errors.Is(err, game.ErrInvalidInstrument):
		return Reply{Content: "❌ That stock doesn't exist.", Ephemeral: true}
	}
	h.logger().Error("command failed", "command", req.Command, "user_id", req.UserID, "err", err)
	return Reply{Content: "⚠️ Something went wrong. Please try again later.", Ephemeral: true}
}

var sparks = []rune("▁▂▃▄▅▆▇█")

// renderTrend draws the series as a sparkline with its first and last points.
func renderTrend(name string, series []game.SeriesPoint) string {
	lo, hi := series[0].Value, series[0].Value
	for _, p := range series {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}
	var line strings.Builder
	for _, p := range series {
		idx := 0
		if hi > lo {
			idx = int((p.Value - lo) * int64(len(sparks)-1) / (hi - lo))
		}
		line.WriteRune(sparks[idx])
	}
	first, last := series[0], series[len(series)-1]
	return fmt.Sprintf("**Stock Trend: %s**\n`%s`\n%s $%d → %s $%d (low $%d, high $%d)",
		name, line.String(), first.Label, first.Value, last.Label, last.Value, lo, hi)
}

func renderLeaderboard(rows []game.WealthRow) string {
	var b strings.Builder
	b.WriteString("**Top Wealthiest Users**\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%d. <@%s>: **$%d**\n", r.Rank, r.UserID, r.Wealth)
	}
	return strings.TrimRight(b.String(), "\n")
}
