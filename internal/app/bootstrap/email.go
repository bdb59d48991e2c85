package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/telehealth-booking/internal/config"
	"github.com/wolfman30/telehealth-booking/internal/notify"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

// BuildEmailSender selects the notification transport from EMAIL_PROVIDER.
// It always returns a usable sender; misconfiguration falls back to the stub
// and the returned reason says why.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger), "missing config"
	}

	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender, "sendgrid"
		}
		return notify.NewStubEmailSender(logger), "sendgrid api key missing"
	case "ses":
		if awsCfg == nil || cfg.SESFromEmail == "" {
			return notify.NewStubEmailSender(logger), "ses not configured"
		}
		if sender := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender, "ses"
		}
		return notify.NewStubEmailSender(logger), "ses client unavailable"
	}
	return notify.NewStubEmailSender(logger), "stub"
}
