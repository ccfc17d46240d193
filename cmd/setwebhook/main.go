package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tgrelay/internal/config"
	"tgrelay/internal/telegram"
	"tgrelay/internal/transport"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. Flags fall back to environment variables:
// --token TELEGRAM_TOKEN, --url WEBHOOK_URL, --secret TELEGRAM_WEBHOOK_SECRET,
// --api-base-url TELEGRAM_API_BASE_URL.
func newRootCmd(out io.Writer) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "setwebhook",
		Short:         "Point the Telegram bot webhook at the relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(v)
			if err != nil {
				return err
			}
			publicURL := strings.TrimSpace(v.GetString("url"))
			if publicURL == "" {
				return errors.New("--url (or WEBHOOK_URL) is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
			defer cancel()

			token, secret := v.GetString("token"), v.GetString("secret")
			var (
				info    telegram.WebhookInfo
				changed bool
			)
			if v.GetBool("force") {
				if err := client.SetWebhook(ctx, telegram.WebhookURL(publicURL, token), secret); err != nil {
					return fmt.Errorf("set webhook: %w", err)
				}
				changed = true
				info, err = client.GetWebhookInfo(ctx)
			} else {
				info, changed, err = telegram.EnsureWebhook(ctx, client, publicURL, token, secret)
			}
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)
			if changed {
				green.Fprintln(out, "webhook updated")
			} else {
				yellow.Fprintln(out, "webhook already up to date")
			}
			printInfo(out, info, token)
			return nil
		},
	}

	cmd.PersistentFlags().String("token", "", "Telegram bot token.")
	cmd.PersistentFlags().String("api-base-url", "https://api.telegram.org", "Telegram Bot API base URL.")
	cmd.PersistentFlags().Duration("timeout", 15*time.Second, "Timeout for Bot API calls.")
	cmd.Flags().String("url", "", "Public base URL of the relay, e.g. https://relay.example.com.")
	cmd.Flags().String("secret", "", "Secret sent by Telegram in X-Telegram-Bot-Api-Secret-Token.")
	cmd.Flags().Bool("force", false, "Call setWebhook even when the URL already matches.")

	_ = v.BindPFlag("token", cmd.PersistentFlags().Lookup("token"))
	_ = v.BindPFlag("api_base_url", cmd.PersistentFlags().Lookup("api-base-url"))
	_ = v.BindPFlag("timeout", cmd.PersistentFlags().Lookup("timeout"))
	_ = v.BindPFlag("url", cmd.Flags().Lookup("url"))
	_ = v.BindPFlag("secret", cmd.Flags().Lookup("secret"))
	_ = v.BindPFlag("force", cmd.Flags().Lookup("force"))
	_ = v.BindEnv("token", "TELEGRAM_TOKEN")
	_ = v.BindEnv("api_base_url", "TELEGRAM_API_BASE_URL")
	_ = v.BindEnv("url", "WEBHOOK_URL")
	_ = v.BindEnv("secret", "TELEGRAM_WEBHOOK_SECRET")

	cmd.AddCommand(newInfoCmd(v, out))
	return cmd
}

func newInfoCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(v)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
			defer cancel()

			info, err := client.GetWebhookInfo(ctx)
			if err != nil {
				return fmt.Errorf("get webhook info: %w", err)
			}
			printInfo(out, info, v.GetString("token"))
			return nil
		},
	}
}

func newClient(v *viper.Viper) (*telegram.HTTPBotClient, error) {
	token := strings.TrimSpace(v.GetString("token"))
	if token == "" {
		return nil, errors.New("--token (or TELEGRAM_TOKEN) is required")
	}
	httpClient := transport.NewHTTPClient(transport.Options{Timeout: v.GetDuration("timeout")})
	return telegram.NewClient(config.TelegramConfig{
		Token:      token,
		APIBaseURL: v.GetString("api_base_url"),
	}, httpClient, nil), nil
}

// printInfo masks the bot token, which is part of the webhook URL.
func printInfo(out io.Writer, info telegram.WebhookInfo, token string) {
	cyan := color.New(color.FgCyan)
	red := color.New(color.FgRed)

	url := info.URL
	if token != "" {
		url = strings.ReplaceAll(url, token, "<token>")
	}
	if url == "" {
		url = "(not set)"
	}

	fmt.Fprint(out, "URL:      ")
	cyan.Fprintln(out, url)
	fmt.Fprintf(out, "Pending:  %d\n", info.PendingUpdateCount)
	if info.LastErrorMessage != "" {
		fmt.Fprint(out, "Error:    ")
		red.Fprintf(out, "%s (%s)\n", info.LastErrorMessage,
			time.Unix(info.LastErrorDate, 0).UTC().Format(time.RFC3339))
	}
}
