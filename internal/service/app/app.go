package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"mls_chat/internal/model"
	"mls_chat/internal/service/delivery"
	"mls_chat/internal/service/mls"
	"mls_chat/internal/service/redis"
	"mls_chat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	reconnectBase = 500 * time.Millisecond
	reconnectMax  = 30 * time.Second
)

var errNoActiveGroup = errors.New("no active conversation, use /create or /switch")

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		coordinator  *mls.Coordinator
		delivery     *delivery.Client
		redisService *redis.RedisService
		events       *EventLog

		self   model.MemberHandle
		domain string

		// active is the conversation typed messages go to.
		active *atomic.String
	}
)

func NewApp(coordinator *mls.Coordinator, client *delivery.Client, redis *redis.RedisService, events *EventLog) *App {
	self := coordinator.Self()
	return &App{
		app:          tview.NewApplication(),
		coordinator:  coordinator,
		delivery:     client,
		redisService: redis,
		events:       events,
		self:         self,
		domain:       self.User().Domain,
		active:       atomic.NewString(""),
	}
}

// Run blocks until the UI is closed.
func (c *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id, err := c.LoadActiveGroup(ctx)
	if err != nil {
		log.Warn("load active conversation failed", zap.Error(err))
	}
	if id != nil {
		c.active.Store(string(id))
	}

	go c.listen(ctx)
	go c.drainEvents(ctx)
	return c.renderUI()
}

func (c *App) Stop() {
	c.app.Stop()
}

// blocking function
func (c *App) renderUI() error {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true)
	c.setTitle()
	fmt.Fprintf(c.chatbox, "[gray]Signed in as %s. Type /help for commands.[-]\n", c.self)

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(line string) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			var err error
			if cmd, ok := parseCommand(line); ok {
				err = c.execute(ctx, cmd)
			} else {
				err = c.SendMessage(ctx, line)
			}
			if err != nil {
				c.fail(err)
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	return c.app.SetRoot(layout, true).SetFocus(c.input).Run()
}

func (c *App) setTitle() {
	title := " No conversation "
	if active := c.active.Load(); active != "" {
		title = fmt.Sprintf(" %s ", active)
	}
	c.chatbox.SetTitle(title)
}

func (c *App) printf(format string, args ...any) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, format+"\n", args...)
		c.chatbox.ScrollToEnd()
	})
}

func (c *App) fail(err error) {
	log.Debug("command failed", zap.Error(err))
	c.printf("[red]%s[-]", tview.Escape(err.Error()))
}

// listen keeps the websocket subscription alive until ctx is done.
func (c *App) listen(ctx context.Context) {
	backoff, err := retry.NewExponential(reconnectBase)
	if err != nil {
		log.Error("create reconnect backoff failed", zap.Error(err))
		return
	}
	backoff = retry.WithCappedDuration(reconnectMax, backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.delivery.Subscribe(ctx, func(message *model.Message) {
			if err := c.ReceiveMessage(ctx, message); err != nil {
				c.fail(err)
			}
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("subscription dropped, reconnecting", zap.Error(err))
		return retry.RetryableError(err)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("subscription stopped", zap.Error(err))
	}
}

func (c *App) drainEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-c.events.C():
			for _, e := range events {
				c.printf("[blue]%s[-]", tview.Escape(describeEvent(e)))
			}
		}
	}
}

func (c *App) activeGroup() (model.GroupID, error) {
	active := c.active.Load()
	if active == "" {
		return nil, errNoActiveGroup
	}
	return model.GroupID(active), nil
}

func (c *App) SendMessage(ctx context.Context, msg string) error {
	id, err := c.activeGroup()
	if err != nil {
		return err
	}

	ct, err := c.coordinator.Encrypt(ctx, id, []byte(msg))
	if err != nil {
		return err
	}
	if _, err := c.delivery.SendMessage(ctx, ct); err != nil {
		return err
	}

	c.printf("[yellow]You:[-] %s", tview.Escape(msg))
	return nil
}

// ReceiveMessage handles one pushed frame: welcomes join a conversation,
// everything else goes through the group.
func (c *App) ReceiveMessage(ctx context.Context, message *model.Message) error {
	if message.Kind == model.KindWelcome {
		id, err := c.coordinator.ProcessWelcomeMessage(ctx, base64.StdEncoding.EncodeToString(message.Payload))
		if err != nil {
			return fmt.Errorf("join conversation: %w", err)
		}
		c.printf("[blue]%s added you to %s[-]", message.From, tview.Escape(string(id)))
		if c.active.Load() == "" {
			return c.switchTo(ctx, id)
		}
		return nil
	}

	res, err := c.coordinator.Decrypt(ctx, message.GroupID, message.Payload)
	if err != nil {
		return err
	}

	name := tview.Escape(string(message.GroupID))
	switch {
	case !res.IsActive:
		c.printf("[blue]You are no longer a member of %s[-]", name)
		if c.active.Load() == string(message.GroupID) {
			c.active.Store("")
			if err := c.ClearActiveGroup(ctx); err != nil {
				log.Warn("clear active conversation failed", zap.Error(err))
			}
			c.app.QueueUpdateDraw(c.setTitle)
		}
	case res.Message != nil:
		prefix := ""
		if c.active.Load() != string(message.GroupID) {
			prefix = fmt.Sprintf("[gray]%s[-] ", name)
		}
		c.printf("%s[green]%s:[-] %s", prefix, res.Sender, tview.Escape(string(res.Message)))
	case len(res.Proposals) > 0:
		c.printf("[gray]%s: change proposed by %s[-]", name, senderName(res.Sender))
	}
	return nil
}

func (c *App) switchTo(ctx context.Context, id model.GroupID) error {
	c.active.Store(string(id))
	c.app.QueueUpdateDraw(c.setTitle)
	return c.SaveActiveGroup(ctx, id)
}

func senderName(sender model.MemberHandle) string {
	if len(sender) == 0 {
		return "the delivery service"
	}
	return sender.String()
}
