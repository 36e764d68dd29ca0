package app

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/taskwatch/internal/credential"
	"github.com/nhle/taskwatch/internal/identity"
	"github.com/nhle/taskwatch/internal/mailbox"
	"github.com/nhle/taskwatch/internal/model"
	"github.com/nhle/taskwatch/internal/notify"
	"github.com/nhle/taskwatch/internal/source/tracker"
)

// newNotifier fans out to every channel that has credentials. With none
// configured, messages go to the log.
func newNotifier(cfg model.NotifyConfig, logger zerolog.Logger) notify.Notifier {
	var channels []notify.Notifier

	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		channels = append(channels, notify.NewTelegram(notify.TelegramConfig{
			Token:             cfg.Telegram.Token,
			ChatID:            cfg.Telegram.ChatID,
			ParseMode:         cfg.Telegram.ParseMode,
			MessagesPerMinute: cfg.Telegram.MessagesPerMinute,
			BreakerFailures:   cfg.Telegram.BreakerFailures,
		}, logger))
	}

	if cfg.SMTP.Host != "" && cfg.SMTP.To != "" {
		channels = append(channels, notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			To:       cfg.SMTP.To,
			TLS:      cfg.SMTP.TLS,
		}))
	}

	if len(channels) == 0 {
		logger.Warn().Msg("no notification channel configured, messages go to the log")
		return notify.NewLog(logger)
	}
	return notify.NewMulti(channels...)
}

// newRefresher wires the magic-link flow: identity client, mailbox
// extractor and credential store.
func newRefresher(
	cfg *model.AppConfig,
	creds credential.Store,
	alerts notify.Notifier,
	logger zerolog.Logger,
) (*identity.Refresher, error) {
	imap := mailbox.NewIMAPClient(mailbox.IMAPConfig{
		Host:     cfg.Mailbox.Host,
		Port:     cfg.Mailbox.Port,
		Username: cfg.Mailbox.Username,
		Password: cfg.Mailbox.Password,
		TLS:      cfg.Mailbox.TLS,
		Folder:   cfg.Mailbox.Folder,
	})

	extractor, err := mailbox.NewExtractor(imap, cfg.Mailbox.LinkPattern, logger)
	if err != nil {
		return nil, err
	}

	provider := identity.NewClient(identity.ClientOptions{
		BaseURL:      cfg.Identity.BaseURL,
		LoginPath:    cfg.Identity.LoginPath,
		ExchangePath: cfg.Identity.ExchangePath,
		Email:        cfg.Identity.Email,
		CallbackURL:  cfg.Identity.CallbackURL,
		UserAgent:    cfg.API.UserAgent,
		HTTPClient:   &http.Client{Timeout: model.IdentityRequestTimeout},
	})

	return identity.NewRefresher(provider, extractor, creds, alerts, identity.Options{
		Criteria: mailbox.Criteria{
			From:    cfg.Mailbox.Sender,
			Subject: cfg.Mailbox.Subject,
		},
		Backoff: identity.Backoff{
			Initial:  seconds(cfg.Refresh.InitialDelaySec),
			Max:      seconds(cfg.Refresh.MaxDelaySec),
			Deadline: seconds(cfg.Refresh.DeadlineSec),
		},
		AllowTokenFallback: cfg.Identity.AllowTokenFallback,
	}, logger), nil
}

// newTrackerSource builds the project API client.
func newTrackerSource(
	cfg model.APIConfig,
	creds credential.Store,
	refresher *identity.Refresher,
	logger zerolog.Logger,
) *tracker.Client {
	return tracker.NewClient(tracker.Options{
		BaseURL:      cfg.BaseURL,
		ProjectsPath: cfg.ProjectsPath,
		Page:         cfg.Page,
		PageSize:     cfg.PageSize,
		UserAgent:    cfg.UserAgent,
		Timeout:      seconds(cfg.TimeoutSec),
	}, creds, refresher, logger)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
