package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:          "info",
			Command:           "/doubt",
			MaxConcurrentRuns: 5,
		},
		Provider: ProviderConfig{
			Name:           "gemini",
			Model:          "gemini-2.0-flash-lite",
			TimeoutSeconds: 120,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:      false,
				ParseMode:    "Markdown",
				MessageLimit: 4000,
			},
			Discord: DiscordConfig{
				Enabled:      false,
				MessageLimit: 2000,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Stats: StatsConfig{
			Enabled: true,
			DBPath:  "~/.doubtbot/stats.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}
