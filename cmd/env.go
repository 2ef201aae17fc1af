package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listpull-cli/internal/batch"
	"github.com/sells-group/listpull-cli/internal/consolidate"
	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/notify"
	"github.com/sells-group/listpull-cli/internal/store"
	"github.com/sells-group/listpull-cli/pkg/campaign"
	"github.com/sells-group/listpull-cli/pkg/crm"
	"github.com/sells-group/listpull-cli/pkg/notion"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "listpull.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initTenants() (*model.TenantRegistry, error) {
	return model.LoadTenants(cfg.Tenants.Path)
}

// initNotifier builds the reviewer channel: the webhook, plus the Notion
// mirror when a token is configured.
func initNotifier() (batch.Notifier, error) {
	if cfg.Notify.WebhookURL == "" {
		return nil, eris.New("notify webhook URL is required (LISTPULL_NOTIFY_WEBHOOK_URL)")
	}

	channels := notify.Multi{notify.NewWebhook(cfg.Notify.WebhookURL)}
	if cfg.Notion.Token != "" {
		if cfg.Notion.BatchDB == "" {
			return nil, eris.New("notion batch database id is required when a token is set")
		}
		channels = append(channels,
			notify.NewNotionMirror(notion.NewClient(cfg.Notion.Token), cfg.Notion.BatchDB))
	}
	return channels, nil
}

// initDeliverer wires the campaign platform client and the optional CRM
// lead mirror.
func initDeliverer(st store.Store, tenants *model.TenantRegistry) (batch.Deliverer, error) {
	if cfg.Campaign.BaseURL == "" {
		return nil, eris.New("campaign base URL is required (LISTPULL_CAMPAIGN_BASE_URL)")
	}

	platform := campaign.NewClient(cfg.Campaign.BaseURL, cfg.Campaign.APIKey,
		campaign.WithRateLimit(cfg.Campaign.RateRPS),
		campaign.WithSettleDelay(time.Duration(cfg.Campaign.SettleSecs)*time.Second),
	)

	var crmClient crm.Client
	if cfg.CRM.ClientID != "" {
		c, err := crm.NewFromJWT(cfg.CRM.LoginURL, cfg.CRM.ClientID, cfg.CRM.Username, cfg.CRM.KeyPath,
			crm.WithRateLimit(cfg.CRM.RateRPS))
		if err != nil {
			return nil, err
		}
		crmClient = c
	}

	return batch.NewCampaignDeliverer(st, tenants, platform, crmClient), nil
}

func initGate(st store.Store) (*batch.Gate, error) {
	tenants, err := initTenants()
	if err != nil {
		return nil, err
	}
	notifier, err := initNotifier()
	if err != nil {
		return nil, err
	}
	deliverer, err := initDeliverer(st, tenants)
	if err != nil {
		return nil, err
	}
	return batch.NewGate(st, notifier, deliverer), nil
}

func initConsolidator(st store.Store) *consolidate.Consolidator {
	return consolidate.New(st, cfg.Consolidate.Dir)
}
