package bootstrap

import (
	"fmt"

	appconfig "github.com/wolfman30/telehealth-booking/internal/config"
	"github.com/wolfman30/telehealth-booking/internal/meetings"
	"github.com/wolfman30/telehealth-booking/internal/videosdk"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

// BuildVideoProvider wires the VideoSDK client. Outside production a missing
// key pair falls back to the in-process fake so the API can run locally.
func BuildVideoProvider(cfg *appconfig.Config, logger *logging.Logger) (meetings.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if !cfg.VideoSDKConfigured() {
		if cfg.Env == "production" {
			return nil, fmt.Errorf("bootstrap: VideoSDK credentials are required in production")
		}
		logger.Warn("VideoSDK credentials missing; using fake meeting provider")
		return meetings.NewFakeProvider(), nil
	}

	client, err := videosdk.New(videosdk.Config{
		BaseURL:    cfg.VideoSDKBaseURL,
		APIKey:     cfg.VideoSDKAPIKey,
		Secret:     cfg.VideoSDKSecret,
		TokenTTL:   cfg.VideoSDKTokenTTL,
		Timeout:    cfg.VideoSDKTimeout,
		MaxRetries: cfg.VideoSDKMaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: videosdk client: %w", err)
	}
	logger.Info("VideoSDK provider enabled", "base_url", cfg.VideoSDKBaseURL)
	return client, nil
}
