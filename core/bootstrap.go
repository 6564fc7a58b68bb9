package core

import (
	"context"
	"fmt"

	"smartroute/config"
	"smartroute/pkg/s3client"
	"smartroute/pkg/trade"
	"smartroute/pkg/utils"

	log "github.com/sirupsen/logrus"
)

func Bootstrap(ctx context.Context, config config.Config) (*Universe, error) {
	log.Info("🦾 Bootstrapping...")

	u := NewUniverse(*config.Routing)

	// register exchanges
	for exchgId, exchgConfig := range config.ExchangeConfigs {
		if err := u.RegisterExchange(exchgId, exchgConfig); err != nil {
			return nil, fmt.Errorf("failed to register exchange %v: %w", exchgId, err)
		}
		log.Infof("exchange '%v' registered", exchgId)
	}

	journal, err := newJournal(config.Journal)
	if err != nil {
		return nil, fmt.Errorf("failed to set up trade journal: %w", err)
	}
	if err := u.Wire(journal); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"exchange": config.Routing.Exchange,
		"bridges":  config.Routing.Bridges,
		"fiat":     config.Routing.FiatAsset,
	}).Info("router ready")
	return u, nil
}

func newJournal(cfg *config.JournalConfig) (trade.Journal, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	client, err := s3client.Init(
		utils.LoadEnvWithDefault("AWS_ACCESS_KEY", ""),
		utils.LoadEnvWithDefault("AWS_SECRET_KEY", ""),
		cfg.Region,
	)
	if err != nil {
		return nil, err
	}
	log.Infof("trade journal enabled: s3://%s/%s", cfg.Bucket, cfg.Prefix)
	return s3client.NewJournal(client, cfg.Bucket, cfg.Prefix), nil
}
