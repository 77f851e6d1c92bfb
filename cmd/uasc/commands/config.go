package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/opd-ai/uasc"
	"github.com/opd-ai/uasc/crypto"
)

type fileConfig struct {
	Endpoint         string `toml:"endpoint"`
	Policy           string `toml:"policy"`
	Mode             string `toml:"mode"`
	ReceiveBuffer    uint32 `toml:"receive_buffer"`
	SendBuffer       uint32 `toml:"send_buffer"`
	MaxMessageSize   uint32 `toml:"max_message_size"`
	MaxChunkCount    uint32 `toml:"max_chunk_count"`
	TokenLifetime    string `toml:"token_lifetime"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	RenewTimeout     string `toml:"renew_timeout"`
}

func loadChannelConfig(path string, cfg *uasc.Config) (*uasc.Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("endpoint") {
		cfg.EndpointURL = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("policy") {
		p := crypto.PolicyFromName(strings.TrimSpace(raw.Policy))
		if p == crypto.PolicyInvalid {
			return nil, fmt.Errorf("unknown security policy %q", raw.Policy)
		}
		cfg.Policy = p
	}
	if meta.IsDefined("mode") {
		m := crypto.ModeFromName(strings.TrimSpace(raw.Mode))
		if m == crypto.ModeInvalid {
			return nil, fmt.Errorf("unknown security mode %q", raw.Mode)
		}
		cfg.Mode = m
	}
	if meta.IsDefined("receive_buffer") {
		cfg.Limits.ReceiveBufferSize = raw.ReceiveBuffer
	}
	if meta.IsDefined("send_buffer") {
		cfg.Limits.SendBufferSize = raw.SendBuffer
	}
	if meta.IsDefined("max_message_size") {
		cfg.Limits.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("max_chunk_count") {
		cfg.Limits.MaxChunkCount = raw.MaxChunkCount
	}
	if meta.IsDefined("token_lifetime") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TokenLifetime))
		if err != nil {
			return nil, fmt.Errorf("parse token_lifetime: %w", err)
		}
		cfg.RequestedLifetime = d
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if meta.IsDefined("renew_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RenewTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse renew_timeout: %w", err)
		}
		cfg.RenewTimeout = d
	}
	return cfg, nil
}
