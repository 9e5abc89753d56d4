package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "stonkbot/internal/cli"
	"stonkbot/internal/config"
	"stonkbot/internal/game"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "stk",
		Short:        "stonkbot CLI client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "stonkbot API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newBalanceCmd(&apiBase),
		newTransferCmd(&apiBase, "deposit", "Move money from your wallet into your bank"),
		newTransferCmd(&apiBase, "withdraw", "Move money from your bank into your wallet"),
		newInterestCmd(&apiBase),
		newWorkCmd(&apiBase),
		newMarketCmd(&apiBase),
		newTrendCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newTradeCmd(&apiBase, game.SideBuy),
		newTradeCmd(&apiBase, game.SideSell),
		newPortfolioCmd(&apiBase),
		newUpdateMarketCmd(&apiBase),
		newWatchCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// session loads the saved identity and a client for it. A base URL saved at
// login wins over the default but not over --api.
func session(cmd *cobra.Command, apiBase *string) (cl.Session, *cl.Client, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, nil, fmt.Errorf("login required: %w", err)
	}
	base := *apiBase
	if sess.APIBaseURL != "" && !cmd.Flags().Changed("api") {
		base = sess.APIBaseURL
	}
	return sess, cl.NewClient(base, sess.APIToken), nil
}

func publicClient(apiBase *string) *cl.Client {
	token := ""
	if sess, err := cl.LoadSession(); err == nil {
		token = sess.APIToken
	}
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"), token)
}

func newLoginCmd(apiBase *string) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login [user_id]",
		Short: "Act as a user id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := ""
			if len(args) > 0 {
				userID = strings.TrimSpace(args[0])
			} else {
				v, err := promptRequired("User id")
				if err != nil {
					return err
				}
				userID = v
			}
			if token == "" {
				token = strings.TrimSpace(os.Getenv("STONKBOT_API_TOKEN"))
			}
			sess := cl.Session{UserID: userID, APIToken: token}
			if cmd.Flags().Changed("api") {
				sess.APIBaseURL = *apiBase
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			acct, err := cl.NewClient(*apiBase, token).Account(ctx, userID)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s.", acct.UserID))
			renderAccount(acct)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "API bearer token (defaults to $STONKBOT_API_TOKEN)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newBalanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "balance",
		Short:   "Show your wallet and bank",
		Aliases: []string{"bal"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			acct, err := client.Account(ctx, sess.UserID)
			if err != nil {
				return err
			}
			renderAccount(acct)
			return nil
		},
	}
}

func newTransferCmd(apiBase *string, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [amount]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 0, "Amount")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			var acct game.Account
			if action == "deposit" {
				acct, err = client.Deposit(ctx, sess.UserID, amount)
			} else {
				acct, err = client.Withdraw(ctx, sess.UserID, amount)
			}
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s of $%s complete.", strings.ToUpper(action[:1])+action[1:], comma(amount)))
			renderAccount(acct)
			return nil
		},
	}
}

func newInterestCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "interest",
		Short: "Apply compound interest to your bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Interest(ctx, sess.UserID)
			if err != nil {
				return cooldownHint(err)
			}
			printSuccess(fmt.Sprintf("Interest applied for %d day(s): %s.", out.Days, colorizeDelta(out.Earned)))
			renderAccount(out.Account)
			return nil
		},
	}
}

func newWorkCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Work a shift for a wage",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Work(ctx, sess.UserID)
			if err != nil {
				return cooldownHint(err)
			}
			printSuccess(fmt.Sprintf("You earned $%s.", comma(out.Wage)))
			renderAccount(out.Account)
			return nil
		},
	}
}

func newMarketCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "market",
		Short:   "List current stock prices",
		Aliases: []string{"stocks"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := publicClient(apiBase).Market(ctx)
			if err != nil {
				return err
			}
			renderMarket(out)
			return nil
		},
	}
}

func newTrendCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "trend [stock]",
		Short: "Show the daily price history of a stock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := instrumentFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := publicClient(apiBase).History(ctx, name)
			if err != nil {
				return err
			}
			renderTrend(name, out.Series)
			return nil
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Short:   "Show the wealthiest users",
		Aliases: []string{"lb"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := publicClient(apiBase).Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			renderLeaderboard(out.Rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", game.DefaultLeaderboardLimit, "number of rows")
	return cmd
}

func newTradeCmd(apiBase *string, side string) *cobra.Command {
	return &cobra.Command{
		Use:   side + " [stock] [quantity]",
		Short: strings.ToUpper(side[:1]) + side[1:] + " shares at the current price",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			name, err := instrumentFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			qty, err := int64FromArgOrPrompt(args, 1, "Quantity")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Trade(ctx, sess.UserID, side, name, qty)
			if err != nil {
				return err
			}
			renderTrade(out)
			return nil
		},
	}
}

func newPortfolioCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "portfolio",
		Short:   "Show your shares",
		Aliases: []string{"pf"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Portfolio(ctx, sess.UserID)
			if err != nil {
				return err
			}
			renderPortfolio(out)
			return nil
		},
	}
}

func newUpdateMarketCmd(apiBase *string) *cobra.Command {
	var adminToken string
	cmd := &cobra.Command{
		Use:   "update-market",
		Short: "Run one market evolution step now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if adminToken == "" {
				adminToken = strings.TrimSpace(os.Getenv("STONKBOT_ADMIN_TOKEN"))
			}
			out, err := publicClient(apiBase).Evolve(ctx, adminToken)
			if err != nil {
				return err
			}
			printSuccess("Stock market updated.")
			renderMarket(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminToken, "admin-token", "", "server admin token (defaults to $STONKBOT_ADMIN_TOKEN)")
	return cmd
}

func cooldownHint(err error) error {
	apiErr, ok := err.(*cl.APIError)
	if !ok || apiErr.RetryAt == "" {
		return err
	}
	at, perr := time.Parse(time.RFC3339, apiErr.RetryAt)
	if perr != nil {
		return err
	}
	printWarn(fmt.Sprintf("On cooldown. Try again at %s (in %s).", at.Local().Format("2006-01-02 15:04"), time.Until(at).Round(time.Minute)))
	return nil
}

func instrumentFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		name := strings.ToUpper(strings.TrimSpace(args[0]))
		if err := game.ValidateInstrument(name); err != nil {
			return "", err
		}
		return name, nil
	}
	return promptInstrument("Stock")
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
