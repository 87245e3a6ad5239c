// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish forwards samples to Redis: every sample goes out on a
// pub/sub channel and into a capped per-device history list.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmsstat/internal/config"
	"github.com/Thermoquad/bmsstat/internal/logging"
	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// Client is the part of the Redis API the publisher uses
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// Publisher sends samples to Redis
type Publisher struct {
	client  Client
	channel string
	history int
	codec   Codec
	log     logrus.FieldLogger
}

// New creates a publisher over an existing client. history caps the
// per-device list; 0 disables the list.
func New(client Client, channel string, history int, codec Codec, log logrus.FieldLogger) *Publisher {
	if codec == nil {
		codec = JSONCodec{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Publisher{
		client:  client,
		channel: channel,
		history: history,
		codec:   codec,
		log:     log,
	}
}

// Dial connects to the server in cfg and verifies it answers
func Dial(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*Publisher, error) {
	if log == nil {
		log = logging.Discard()
	}
	codec, err := CodecFor(cfg.Codec)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	log.WithField("addr", cfg.Addr).Info("redis connected")

	return New(client, cfg.Channel, cfg.History, codec, log), nil
}

// HistoryKey returns the list holding a device's recent samples
func HistoryKey(device string) string {
	return fmt.Sprintf("bmsstat:%s:samples", device)
}

// Publish sends one sample. A failed history write is logged but does not
// fail the publish.
func (p *Publisher) Publish(ctx context.Context, device, vendor string, s *bms.Sample, at time.Time) error {
	if s == nil {
		return errors.New("publish: nil sample")
	}

	data, err := p.codec.Encode(&Message{
		Device:    device,
		Vendor:    vendor,
		Timestamp: at.UnixMilli(),
		Sample:    s,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish sample: %w", err)
	}

	if p.history <= 0 {
		return nil
	}

	key := HistoryKey(device)
	if err := p.client.LPush(ctx, key, data).Err(); err != nil {
		p.log.WithError(err).WithField("key", key).Warn("failed to append sample history")
		return nil
	}
	if err := p.client.LTrim(ctx, key, 0, int64(p.history-1)).Err(); err != nil {
		p.log.WithError(err).WithField("key", key).Warn("failed to trim sample history")
	}
	return nil
}

// Close releases the client
func (p *Publisher) Close() error {
	return p.client.Close()
}
