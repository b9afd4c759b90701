package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mls_chat/internal/model"
	"mls_chat/internal/service/mls"
)

const helpText = `[gray]/create <name>          start a conversation
/add <user[@domain]>... invite users
/remove <user:client@domain>... remove clients
/switch <name>          change the active conversation
/update                 rotate your key material
/leave                  ask the others to remove you
/delete                 forget the conversation locally[-]`

var errUsage = errors.New("usage")

type command struct {
	name string
	args []string
}

// parseCommand reports whether line is a slash command.
func parseCommand(line string) (*command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return nil, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return nil, false
	}
	return &command{name: strings.ToLower(fields[0]), args: fields[1:]}, true
}

func (c *App) execute(ctx context.Context, cmd *command) error {
	switch cmd.name {
	case "help":
		c.printf(helpText)
		return nil
	case "create":
		if len(cmd.args) != 1 {
			return fmt.Errorf("%w: /create <name>", errUsage)
		}
		id := model.GroupID(cmd.args[0])
		if err := c.coordinator.CreateGroup(ctx, id); err != nil {
			return err
		}
		c.printf("[blue]Created %s[-]", cmd.args[0])
		return c.switchTo(ctx, id)
	case "switch":
		if len(cmd.args) != 1 {
			return fmt.Errorf("%w: /switch <name>", errUsage)
		}
		id := model.GroupID(cmd.args[0])
		ok, err := c.coordinator.GroupExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("not a member of %s", cmd.args[0])
		}
		return c.switchTo(ctx, id)
	case "add":
		return c.add(ctx, cmd.args)
	case "remove":
		return c.remove(ctx, cmd.args)
	case "update":
		id, err := c.activeGroup()
		if err != nil {
			return err
		}
		_, err = c.coordinator.UpdateKeyMaterial(ctx, id)
		if err == nil {
			c.printf("[gray]Key material updated[-]")
		}
		return err
	case "leave":
		id, err := c.activeGroup()
		if err != nil {
			return err
		}
		if err := c.coordinator.LeaveGroup(ctx, id); err != nil {
			return err
		}
		c.printf("[gray]Asked the other members to remove you[-]")
		return nil
	case "delete":
		id, err := c.activeGroup()
		if err != nil {
			return err
		}
		if err := c.coordinator.DeleteGroup(ctx, id); err != nil {
			return err
		}
		c.active.Store("")
		c.app.QueueUpdateDraw(c.setTitle)
		return c.ClearActiveGroup(ctx)
	default:
		return fmt.Errorf("unknown command /%s, try /help", cmd.name)
	}
}

func (c *App) add(ctx context.Context, args []string) error {
	id, err := c.activeGroup()
	if err != nil {
		return err
	}
	users, err := parseUsers(args, c.domain)
	if err != nil {
		return err
	}

	res, err := c.coordinator.AddMembers(ctx, id, users)
	if err != nil {
		return err
	}
	if res.WelcomeErr != nil {
		c.printf("[red]Members were added but their invitation was not delivered: %s[-]", res.WelcomeErr)
	}
	return nil
}

func (c *App) remove(ctx context.Context, args []string) error {
	id, err := c.activeGroup()
	if err != nil {
		return err
	}
	clients, err := parseClients(args)
	if err != nil {
		return err
	}
	_, err = c.coordinator.RemoveMembers(ctx, id, clients)
	return err
}

func parseUsers(args []string, domain string) ([]model.QualifiedID, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: /add <user[@domain]>...", errUsage)
	}
	users := make([]model.QualifiedID, 0, len(args))
	for _, a := range args {
		users = append(users, model.ParseQualifiedID(a, domain))
	}
	return users, nil
}

func parseClients(args []string) ([]model.MemberHandle, error) {
	if len(args) == 0 {
		return nil, mls.ErrNoClientsToRemove
	}
	clients := make([]model.MemberHandle, 0, len(args))
	for _, a := range args {
		h, err := model.ParseMemberHandle(a)
		if err != nil {
			return nil, err
		}
		clients = append(clients, h)
	}
	return clients, nil
}
