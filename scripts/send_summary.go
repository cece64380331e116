package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/liqian5129/reading-comp/pkg/bridge"
)

// Manual smoke test for the remote bridge: pushes a sample summary card
// to the configured webhook and/or SMS channel so the rendering can be
// checked on a real phone before a session depends on it.

type bridgeConfig struct {
	Bridge struct {
		Webhook struct {
			URL       string `mapstructure:"url"`
			Retries   int    `mapstructure:"retries"`
			BackoffMS int    `mapstructure:"backoff_ms"`
		} `mapstructure:"webhook"`
		SMS struct {
			AccountSID string `mapstructure:"account_sid"`
			AuthToken  string `mapstructure:"auth_token"`
			From       string `mapstructure:"from"`
			To         string `mapstructure:"to"`
		} `mapstructure:"sms"`
	} `mapstructure:"bridge"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	summary := flag.String("summary", "今晚读完了第二部，聊了黄土高原的旱灾。", "")
	flag.Parse()

	cfg, err := loadBridgeConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}

	var channels bridge.Multi
	if cfg.Bridge.Webhook.URL != "" {
		channels = append(channels, bridge.NewWebhook(cfg.Bridge.Webhook.URL,
			cfg.Bridge.Webhook.Retries,
			time.Duration(cfg.Bridge.Webhook.BackoffMS)*time.Millisecond))
	}
	if cfg.Bridge.SMS.AccountSID != "" {
		channels = append(channels, bridge.NewSMS(cfg.Bridge.SMS.AccountSID,
			cfg.Bridge.SMS.AuthToken, cfg.Bridge.SMS.From, cfg.Bridge.SMS.To))
	}
	if len(channels) == 0 {
		fmt.Println("no bridge channel configured")
		os.Exit(1)
	}

	card := bridge.SummaryCard{
		Date:      time.Now().Format("2006-01-02"),
		BookNames: []string{"平凡的世界"},
		Duration:  "1 小时 35 分钟",
		Pages:     41,
		Sessions:  2,
		Notes:     []string{"摘抄：落霞与孤鹜齐飞"},
		Summary:   *summary,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := channels.PushSummary(ctx, card); err != nil {
		fmt.Println("push failed:", err)
		os.Exit(1)
	}
	fmt.Println("summary card pushed")
}

func loadBridgeConfig(path string) (bridgeConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return bridgeConfig{}, err
	}
	var cfg bridgeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return bridgeConfig{}, err
	}
	cfg.Bridge.Webhook.URL = os.ExpandEnv(cfg.Bridge.Webhook.URL)
	cfg.Bridge.SMS.AccountSID = os.ExpandEnv(cfg.Bridge.SMS.AccountSID)
	cfg.Bridge.SMS.AuthToken = os.ExpandEnv(cfg.Bridge.SMS.AuthToken)
	cfg.Bridge.SMS.From = os.ExpandEnv(cfg.Bridge.SMS.From)
	cfg.Bridge.SMS.To = os.ExpandEnv(cfg.Bridge.SMS.To)
	return cfg, nil
}
