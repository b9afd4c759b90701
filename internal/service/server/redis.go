package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"mls_chat/internal/model"
	"mls_chat/internal/service/redis"
)

func queueKey(to model.MemberHandle) string {
	return fmt.Sprintf("delivery:queue:%s", to)
}

func keyPackagesKey(client model.MemberHandle) string {
	return fmt.Sprintf("delivery:keypackages:%s", client)
}

func clientGroupsKey(client model.MemberHandle) string {
	return fmt.Sprintf("delivery:client-groups:%s", client)
}

func groupEpochKey(id model.GroupID) string {
	return fmt.Sprintf("delivery:group:%s:epoch", id)
}

func groupMembersKey(id model.GroupID) string {
	return fmt.Sprintf("delivery:group:%s:members", id)
}

func (c *HttpServer) GetMessagesFromCache(ctx context.Context, to model.MemberHandle) ([]*model.Message, error) {
	vals, err := c.redisService.Drain(ctx, queueKey(to))
	if err != nil {
		return nil, err
	}

	var res []*model.Message
	for _, v := range vals {
		var m model.Message
		err := json.Unmarshal([]byte(v), &m)
		if err != nil {
			return nil, err
		}

		res = append(res, &m)
	}

	return res, nil
}

func (c *HttpServer) PutMessagesToCache(ctx context.Context, to model.MemberHandle, messages []*model.Message) error {
	var vals []any
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}

	return c.redisService.RPush(ctx, queueKey(to), vals...)
}

// groupState is the delivery service's view of a group: the epoch it
// expects the next commit for and who receives its messages.
type groupState struct {
	epoch   uint64
	members []model.MemberHandle
}

func (g *groupState) isMember(client model.MemberHandle) bool {
	for _, m := range g.members {
		if m.Equal(client) {
			return true
		}
	}
	return false
}

// recipients is every member except the sender.
func (g *groupState) recipients(sender model.MemberHandle) []model.MemberHandle {
	var res []model.MemberHandle
	for _, m := range g.members {
		if !m.Equal(sender) {
			res = append(res, m)
		}
	}
	return res
}

// loadGroup returns nil for a group the service has not seen a commit for.
func (c *HttpServer) loadGroup(ctx context.Context, id model.GroupID) (*groupState, error) {
	v, err := c.redisService.Get(ctx, groupEpochKey(id))
	if redis.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	epoch, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode epoch of %s: %w", id, err)
	}

	members, err := c.redisService.SMembers(ctx, groupMembersKey(id))
	if err != nil {
		return nil, err
	}
	g := &groupState{epoch: epoch}
	for _, m := range members {
		g.members = append(g.members, model.MemberHandle(m))
	}
	return g, nil
}

// createGroup records a group first seen in a commit of its creator.
func (c *HttpServer) createGroup(ctx context.Context, id model.GroupID, creator model.MemberHandle) (*groupState, error) {
	if err := c.redisService.Set(ctx, groupEpochKey(id), "0", 0); err != nil {
		return nil, err
	}
	if err := c.redisService.SAdd(ctx, groupMembersKey(id), creator.String()); err != nil {
		return nil, err
	}
	if err := c.redisService.SAdd(ctx, clientGroupsKey(creator), id.String()); err != nil {
		return nil, err
	}
	return &groupState{members: []model.MemberHandle{creator}}, nil
}

// applyCommit advances the group by one epoch. The client to groups index
// follows the membership change.
func (c *HttpServer) applyCommit(ctx context.Context, id model.GroupID, g *groupState, added, removed []model.MemberHandle) error {
	if err := c.redisService.Set(ctx, groupEpochKey(id), strconv.FormatUint(g.epoch+1, 10), 0); err != nil {
		return err
	}
	for _, m := range added {
		if err := c.redisService.SAdd(ctx, groupMembersKey(id), m.String()); err != nil {
			return err
		}
		if err := c.redisService.SAdd(ctx, clientGroupsKey(m), id.String()); err != nil {
			return err
		}
	}
	for _, m := range removed {
		if err := c.redisService.SRem(ctx, groupMembersKey(id), m.String()); err != nil {
			return err
		}
		if err := c.redisService.SRem(ctx, clientGroupsKey(m), id.String()); err != nil {
			return err
		}
	}
	return nil
}
