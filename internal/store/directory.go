package store

import (
	"context"
	"fmt"

	"chathub/internal/config"
	"chathub/internal/domain"
)

// ConfigDirectory serves channel and agent lookups straight from the
// loaded config. Channel/agent CRUD lives outside this engine; the
// config file is the authoritative directory for a running hub.
type ConfigDirectory struct {
	channels map[string]domain.Channel // tenantID/channelID
	agents   map[string]domain.Agent   // tenantID/agentID
	byTenant map[string][]string       // tenantID -> agent ids in config order
}

func NewConfigDirectory(cfg *config.Config) *ConfigDirectory {
	d := &ConfigDirectory{
		channels: make(map[string]domain.Channel),
		agents:   make(map[string]domain.Agent),
		byTenant: make(map[string][]string),
	}
	for _, t := range cfg.Tenants {
		for _, ch := range t.Channels {
			limit := ch.ContextLimit
			if limit <= 0 {
				limit = cfg.General.DefaultContextLimit
			}
			d.channels[t.ID+"/"+ch.ID] = domain.Channel{
				ID:               ch.ID,
				TenantID:         t.ID,
				Type:             ch.Type,
				Name:             ch.Name,
				DefaultAgentID:   ch.DefaultAgentID,
				ContextLimit:     limit,
				ConfigCiphertext: ch.ConfigCiphertext,
			}
		}
		for _, a := range t.Agents {
			d.agents[t.ID+"/"+a.ID] = domain.Agent{
				ID:               a.ID,
				TenantID:         t.ID,
				Name:             a.Name,
				Provider:         a.Provider,
				Model:            a.Model,
				SystemPrompt:     a.SystemPrompt,
				Temperature:      a.Temperature,
				MaxTokens:        a.MaxTokens,
				TopP:             a.TopP,
				FrequencyPenalty: a.FrequencyPenalty,
				PresencePenalty:  a.PresencePenalty,
				Active:           a.IsActive(),
				APIKeyCiphertext: a.APIKeyCiphertext,
			}
			d.byTenant[t.ID] = append(d.byTenant[t.ID], a.ID)
		}
	}
	return d
}

func (d *ConfigDirectory) GetChannel(ctx context.Context, tenantID, channelID string) (*domain.Channel, error) {
	ch, ok := d.channels[tenantID+"/"+channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s not found for tenant %s", channelID, tenantID)
	}
	return &ch, nil
}

// ListChannels returns every configured channel across all tenants,
// for out-of-band health fan-out.
func (d *ConfigDirectory) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	out := make([]domain.Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (d *ConfigDirectory) GetAgent(ctx context.Context, tenantID, agentID string) (*domain.Agent, error) {
	a, ok := d.agents[tenantID+"/"+agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s not found for tenant %s", agentID, tenantID)
	}
	return &a, nil
}

func (d *ConfigDirectory) FirstActiveAgent(ctx context.Context, tenantID string) (*domain.Agent, error) {
	for _, id := range d.byTenant[tenantID] {
		a := d.agents[tenantID+"/"+id]
		if a.Active {
			return &a, nil
		}
	}
	return nil, nil
}
