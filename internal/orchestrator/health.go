package orchestrator

import (
	"context"
	"sync"
	"time"

	"chathub/internal/domain"
)

// healthCheckTimeout bounds each per-channel probe so a hung platform
// API cannot stall the fan-out.
const healthCheckTimeout = 10 * time.Second

// ChannelLister enumerates configured channels for health fan-out.
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]domain.Channel, error)
}

// ChannelReport is one channel's health snapshot.
type ChannelReport struct {
	TenantID  string
	ChannelID string
	Type      domain.ChannelType
	Health    domain.ChannelHealth
}

// CheckChannels probes every configured channel concurrently and
// reports per-channel health. Probes never block message flow; a
// failing probe is a report entry, not an error.
func (o *Orchestrator) CheckChannels(ctx context.Context, lister ChannelLister) ([]ChannelReport, error) {
	channels, err := lister.ListChannels(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]ChannelReport, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch domain.Channel) {
			defer wg.Done()
			reports[i] = ChannelReport{
				TenantID:  ch.TenantID,
				ChannelID: ch.ID,
				Type:      ch.Type,
				Health:    o.probeChannel(ctx, ch),
			}
		}(i, ch)
	}
	wg.Wait()
	return reports, nil
}

func (o *Orchestrator) probeChannel(ctx context.Context, ch domain.Channel) domain.ChannelHealth {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	health := domain.ChannelHealth{CheckedAt: time.Now().UTC()}

	adapter, err := o.channels.Resolve(ch.Type)
	if err != nil {
		health.LastError = err.Error()
		return health
	}
	chCfg, err := o.channelConfig(&ch)
	if err != nil {
		health.LastError = err.Error()
		return health
	}
	snapshot, err := adapter.GetMetadata(probeCtx, chCfg)
	if err != nil || snapshot == nil {
		if err != nil {
			health.LastError = err.Error()
		}
		return health
	}
	return *snapshot
}
