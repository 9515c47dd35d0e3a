package store

import (
	"context"
	"testing"
	"time"

	"realchat/internal/chat"

	"github.com/stretchr/testify/require"
)

// deadlineProbe records the deadline of every context it receives.
type deadlineProbe struct {
	deadlines []time.Duration
}

func (p *deadlineProbe) record(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		p.deadlines = append(p.deadlines, 0)
		return
	}
	p.deadlines = append(p.deadlines, time.Until(deadline))
}

func (p *deadlineProbe) Save(ctx context.Context, msg chat.ChatMessage) (chat.ChatMessage, error) {
	p.record(ctx)
	return msg, nil
}

func (p *deadlineProbe) History(ctx context.Context, _, _ string, _ int) ([]chat.ChatMessage, error) {
	p.record(ctx)
	return nil, nil
}

func (p *deadlineProbe) ExistsUser(ctx context.Context, _ string) (bool, error) {
	p.record(ctx)
	return true, nil
}

func (p *deadlineProbe) SetOnlineFlag(ctx context.Context, _ string, _ bool) error {
	p.record(ctx)
	return nil
}

func (p *deadlineProbe) FindUsersOnline(ctx context.Context) ([]string, error) {
	p.record(ctx)
	return nil, nil
}

func TestGateway_EveryCallHasADeadline(t *testing.T) {
	req := require.New(t)
	probe := &deadlineProbe{}
	gateway := &Gateway{Messages: probe, Users: probe, Flags: probe, Timeout: time.Second}
	ctx := context.Background()

	_, _ = gateway.Save(ctx, chat.ChatMessage{})
	_, _ = gateway.History(ctx, "alice", "bob", 1)
	_, _ = gateway.ExistsUser(ctx, "alice")
	_ = gateway.SetOnlineFlag(ctx, "alice", true)
	_, _ = gateway.FindUsersOnline(ctx)

	req.Len(probe.deadlines, 5)
	for _, remaining := range probe.deadlines {
		req.Greater(remaining, time.Duration(0))
		req.LessOrEqual(remaining, time.Second)
	}
}

func TestGateway_DefaultTimeout(t *testing.T) {
	probe := &deadlineProbe{}
	gateway := &Gateway{Messages: probe, Users: probe, Flags: probe}

	_, _ = gateway.ExistsUser(context.Background(), "alice")

	require.Len(t, probe.deadlines, 1)
	require.Greater(t, probe.deadlines[0], time.Second)
	require.LessOrEqual(t, probe.deadlines[0], DefaultTimeout)
}

func TestGateway_SharesTheCallerDeadline(t *testing.T) {
	probe := &deadlineProbe{}
	gateway := &Gateway{Messages: probe, Users: probe, Flags: probe, Timeout: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _ = gateway.ExistsUser(ctx, "alice")

	require.LessOrEqual(t, probe.deadlines[0], time.Second)
}
