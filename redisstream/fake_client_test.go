package redisstream

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// readResult scripts one XReadGroup response for fakeStreamClient.
type readResult struct {
	streams []redis.XStream
	err     error
}

// fakeStreamClient scripts StreamClient responses using the go-redis
// command constructors, so components run against it exactly as they
// would against a live client.
type fakeStreamClient struct {
	xaddID  string
	xaddErr error
	xadded  []*redis.XAddArgs

	groupCreateErr error
	groupCreated   int

	reads    []readResult
	readIdx  int
	readArgs []*redis.XReadGroupArgs

	acked  []string
	ackErr error

	pending    []redis.XPendingExt
	pendingErr error

	claimed    []redis.XMessage
	claimErr   error
	claimedIDs []string

	xlen    int64
	xlenErr error

	groups []redis.XInfoGroup

	pingErr error
}

func (f *fakeStreamClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.xadded = append(f.xadded, a)
	cmd := redis.NewStringCmd(ctx)
	if f.xaddErr != nil {
		cmd.SetErr(f.xaddErr)
	} else {
		cmd.SetVal(f.xaddID)
	}
	return cmd
}

func (f *fakeStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	f.groupCreated++
	cmd := redis.NewStatusCmd(ctx)
	if f.groupCreateErr != nil {
		cmd.SetErr(f.groupCreateErr)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func (f *fakeStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.readArgs = append(f.readArgs, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if f.readIdx >= len(f.reads) {
		// Script exhausted: behave like a quiet stream.
		cmd.SetErr(redis.Nil)
		return cmd
	}
	r := f.reads[f.readIdx]
	f.readIdx++
	if r.err != nil {
		cmd.SetErr(r.err)
	} else {
		cmd.SetVal(r.streams)
	}
	return cmd
}

func (f *fakeStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	if f.ackErr != nil {
		cmd.SetErr(f.ackErr)
	} else {
		cmd.SetVal(int64(len(ids)))
	}
	return cmd
}

func (f *fakeStreamClient) XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd {
	cmd := redis.NewXPendingExtCmd(ctx)
	if f.pendingErr != nil {
		cmd.SetErr(f.pendingErr)
	} else {
		cmd.SetVal(f.pending)
	}
	return cmd
}

func (f *fakeStreamClient) XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd {
	f.claimedIDs = append(f.claimedIDs, a.Messages...)
	cmd := redis.NewXMessageSliceCmd(ctx)
	if f.claimErr != nil {
		cmd.SetErr(f.claimErr)
	} else {
		cmd.SetVal(f.claimed)
	}
	return cmd
}

func (f *fakeStreamClient) XLen(ctx context.Context, stream string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.xlenErr != nil {
		cmd.SetErr(f.xlenErr)
	} else {
		cmd.SetVal(f.xlen)
	}
	return cmd
}

func (f *fakeStreamClient) XInfoGroups(ctx context.Context, key string) *redis.XInfoGroupsCmd {
	cmd := redis.NewXInfoGroupsCmd(ctx, key)
	if f.groups == nil {
		cmd.SetErr(errors.New("ERR no such key"))
	} else {
		cmd.SetVal(f.groups)
	}
	return cmd
}

func (f *fakeStreamClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.pingErr != nil {
		cmd.SetErr(f.pingErr)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

var _ StreamClient = (*fakeStreamClient)(nil)
