package store

import (
	"context"
	"testing"

	"chathub/internal/config"
	"chathub/internal/domain"
)

func testConfig() *config.Config {
	inactive := false
	cfg := config.Defaults()
	cfg.Tenants = []config.Tenant{{
		ID: "t1",
		Channels: []config.Channel{{
			ID:               "c1",
			Type:             domain.ChannelTelegram,
			Name:             "helperbot",
			DefaultAgentID:   "a2",
			ConfigCiphertext: "ct-telegram",
		}},
		Agents: []config.Agent{
			{ID: "a1", Name: "Dormant", Provider: "openai", Active: &inactive, APIKeyCiphertext: "ct1"},
			{ID: "a2", Name: "Helper", Provider: "openai", APIKeyCiphertext: "ct2"},
		},
	}}
	return cfg
}

func TestDirectory_GetChannel(t *testing.T) {
	d := NewConfigDirectory(testConfig())
	ch, err := d.GetChannel(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if ch.Type != domain.ChannelTelegram || ch.Name != "helperbot" {
		t.Fatalf("bad channel: %+v", ch)
	}
	if ch.ConfigCiphertext != "ct-telegram" {
		t.Fatalf("ciphertext not extracted: %q", ch.ConfigCiphertext)
	}
	if ch.ContextLimit != 20 {
		t.Fatalf("expected default context limit, got %d", ch.ContextLimit)
	}
	if _, err := d.GetChannel(context.Background(), "t1", "nope"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestDirectory_FirstActiveAgentSkipsInactive(t *testing.T) {
	d := NewConfigDirectory(testConfig())
	a, err := d.FirstActiveAgent(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || a.ID != "a2" {
		t.Fatalf("expected a2, got %+v", a)
	}

	a, err = d.FirstActiveAgent(context.Background(), "unknown-tenant")
	if err != nil {
		t.Fatal(err)
	}
	if a != nil {
		t.Fatal("expected nil agent for tenant with none")
	}
}
