// Package telemetry publishes upload session lifecycle events to Redis,
// adapted from the teacher's pkg/redis client: the same
// HSet-then-Publish pattern, repurposed from vehicle/battery state
// mirroring to firmware-upload progress and result reporting. It is
// optional monitoring, never required for a session to complete (spec's
// SUPPLEMENTED FEATURES).
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key names under which session state is mirrored and published.
const (
	KeySessions = "fwupload:sessions"
	ChanProgress = "fwupload:progress"
	ChanResult   = "fwupload:result"
)

// Publisher publishes session progress and results to Redis. It
// implements pkg/uploader.Telemetry.
type Publisher struct {
	client *redis.Client
	ctx    context.Context
}

// New connects to a Redis server, mirroring pkg/redis.New's constructor
// shape (address, password, db, immediate Ping).
func New(addr, password string, db int) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to redis: %w", err)
	}

	return &Publisher{client: client, ctx: context.Background()}, nil
}

// Progress writes and publishes the current percent-complete for a
// session, mirroring WriteAndPublishInt.
func (p *Publisher) Progress(sessionID string, percent int) {
	pipe := p.client.Pipeline()
	pipe.HSet(p.ctx, KeySessions, sessionID+":percent", percent)
	pipe.Publish(p.ctx, ChanProgress, fmt.Sprintf("%s:%d", sessionID, percent))
	pipe.Exec(p.ctx)
}

// Result writes and publishes the terminal outcome of a session,
// mirroring WriteAndPublishString.
func (p *Publisher) Result(sessionID string, ok bool, detail string) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	pipe := p.client.Pipeline()
	pipe.HSet(p.ctx, KeySessions, sessionID+":status", status)
	pipe.HSet(p.ctx, KeySessions, sessionID+":detail", detail)
	pipe.Publish(p.ctx, ChanResult, fmt.Sprintf("%s:%s:%s", sessionID, status, detail))
	pipe.Exec(p.ctx)
}

// LastResult reads back a session's last recorded status and detail,
// mirroring GetString's not-found handling.
func (p *Publisher) LastResult(sessionID string) (status, detail string, err error) {
	status, err = p.client.HGet(p.ctx, KeySessions, sessionID+":status").Result()
	if err == redis.Nil {
		return "", "", fmt.Errorf("telemetry: no recorded session %q", sessionID)
	}
	if err != nil {
		return "", "", err
	}
	detail, err = p.client.HGet(p.ctx, KeySessions, sessionID+":detail").Result()
	if err == redis.Nil {
		detail = ""
		err = nil
	}
	return status, detail, err
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// pingTimeout bounds how long New waits for the initial connectivity
// check, matching the teacher's fail-fast constructor behavior.
const pingTimeout = 3 * time.Second
