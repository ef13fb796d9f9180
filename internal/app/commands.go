package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"filegate/internal/config"
	"filegate/internal/gate"
)

// Commands implements the admin command surface. The dispatcher only routes
// here for users the coordinator recognizes as admins; /cleanup additionally
// requires the owner.
type Commands struct {
	cfg          *config.Config
	store        gate.Store
	entitlements *gate.EntitlementService
	coordinator  *gate.Coordinator
	clock        gate.Clock
	client       botClient
	botUsername  string
	logger       gate.Logger
}

func NewCommands(cfg *config.Config, store gate.Store, entitlements *gate.EntitlementService, coordinator *gate.Coordinator, clock gate.Clock, client botClient, botUsername string, logger gate.Logger) *Commands {
	return &Commands{
		cfg:          cfg,
		store:        store,
		entitlements: entitlements,
		coordinator:  coordinator,
		clock:        clock,
		client:       client,
		botUsername:  botUsername,
		logger:       logger,
	}
}

// Handle runs one admin command. Unknown commands are ignored so regular
// Telegram commands meant for other bots do not produce noise.
func (c *Commands) Handle(ctx context.Context, userID int64, command string, args []string) {
	var err error
	switch command {
	case "/genlink":
		err = c.genLink(ctx, userID, args)
	case "/batch":
		err = c.batch(ctx, userID, args)
	case "/nbatch":
		err = c.nbatch(ctx, userID, args)
	case "/add_premium":
		err = c.addPremium(ctx, userID, args)
	case "/rev_premium":
		err = c.revokePremium(ctx, userID, args)
	case "/premium_users":
		err = c.premiumUsers(ctx, userID)
	case "/ban":
		err = c.setBanned(ctx, userID, args, true)
	case "/unban":
		err = c.setBanned(ctx, userID, args, false)
	case "/stats":
		err = c.stats(ctx, userID)
	case "/cleanup":
		err = c.cleanup(ctx, userID)
	default:
		return
	}
	if err != nil {
		c.logger.Error("admin command failed", "command", command, "admin", userID, "err", err)
		c.reply(ctx, userID, "Command failed: "+err.Error())
	}
}

func (c *Commands) genLink(ctx context.Context, userID int64, args []string) error {
	if len(args) != 1 {
		c.reply(ctx, userID, "Usage: /genlink <message_id>")
		return nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		c.reply(ctx, userID, "Message ID must be a number.")
		return nil
	}
	return c.sendLink(ctx, userID, id, id)
}

func (c *Commands) batch(ctx context.Context, userID int64, args []string) error {
	if len(args) != 2 {
		c.reply(ctx, userID, "Usage: /batch <first_id> <last_id>")
		return nil
	}
	first, err1 := strconv.ParseInt(args[0], 10, 64)
	last, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		c.reply(ctx, userID, "Message IDs must be numbers.")
		return nil
	}
	return c.sendLink(ctx, userID, first, last)
}

func (c *Commands) nbatch(ctx context.Context, userID int64, args []string) error {
	if len(args) != 2 {
		c.reply(ctx, userID, "Usage: /nbatch <first_id> <count>")
		return nil
	}
	first, err1 := strconv.ParseInt(args[0], 10, 64)
	count, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		c.reply(ctx, userID, "Arguments must be numbers.")
		return nil
	}
	addr, err := gate.BatchFromFirst(first, count)
	if err != nil {
		c.reply(ctx, userID, "Count must be positive.")
		return nil
	}
	return c.sendLink(ctx, userID, addr.Start, addr.End)
}

func (c *Commands) sendLink(ctx context.Context, userID, first, last int64) error {
	token, err := gate.EncodeAddress(first, last, c.coordinator.Magnitude())
	if err != nil {
		c.reply(ctx, userID, "Could not build a link for that range.")
		return nil
	}
	link := fmt.Sprintf("https://t.me/%s?start=%s", c.botUsername, token)
	markup := gate.Markup{{gate.Button{Text: "Share link", URL: fmt.Sprintf("https://t.me/share/url?url=%s", link)}}}
	if _, err := c.client.SendMessage(ctx, userID, "Here is your link:\n\n"+link, markup); err != nil {
		return fmt.Errorf("sending link: %w", err)
	}
	return nil
}

// durationUnits maps the suffix accepted by /add_premium to a base duration.
var durationUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"y": 365 * 24 * time.Hour,
}

func (c *Commands) addPremium(ctx context.Context, userID int64, args []string) error {
	if len(args) != 1 && len(args) != 3 {
		c.reply(ctx, userID, "Usage: /add_premium <user_id> [<n> <s|m|h|d|y>]")
		return nil
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		c.reply(ctx, userID, "User ID must be a number.")
		return nil
	}

	var duration *time.Duration
	if len(args) == 3 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || n <= 0 {
			c.reply(ctx, userID, "Amount must be a positive number.")
			return nil
		}
		unit, ok := durationUnits[args[2]]
		if !ok {
			c.reply(ctx, userID, "Unit must be one of s, m, h, d, y.")
			return nil
		}
		d := time.Duration(n) * unit
		duration = &d
	}

	expiresAt, err := c.entitlements.Grant(ctx, target, duration)
	if err != nil {
		return fmt.Errorf("granting entitlement: %w", err)
	}
	if expiresAt == nil {
		c.reply(ctx, userID, fmt.Sprintf("User %d now has permanent premium.", target))
	} else {
		c.reply(ctx, userID, fmt.Sprintf("User %d has premium until %s.", target, expiresAt.UTC().Format(time.RFC3339)))
	}
	return nil
}

func (c *Commands) revokePremium(ctx context.Context, userID int64, args []string) error {
	if len(args) != 1 {
		c.reply(ctx, userID, "Usage: /rev_premium <user_id>")
		return nil
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		c.reply(ctx, userID, "User ID must be a number.")
		return nil
	}
	removed, err := c.entitlements.Revoke(ctx, target)
	if err != nil {
		return fmt.Errorf("revoking entitlement: %w", err)
	}
	if removed {
		c.reply(ctx, userID, fmt.Sprintf("Premium revoked for user %d.", target))
	} else {
		c.reply(ctx, userID, fmt.Sprintf("User %d has no premium.", target))
	}
	return nil
}

func (c *Commands) premiumUsers(ctx context.Context, userID int64) error {
	ents, err := c.entitlements.List(ctx)
	if err != nil {
		return fmt.Errorf("listing entitlements: %w", err)
	}
	if len(ents) == 0 {
		c.reply(ctx, userID, "No premium users.")
		return nil
	}

	var b strings.Builder
	b.WriteString("Premium users:\n")
	for _, ent := range ents {
		if ent.ExpiresAt == nil {
			fmt.Fprintf(&b, "\n%d — permanent", ent.UserID)
		} else {
			fmt.Fprintf(&b, "\n%d — until %s", ent.UserID, ent.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	c.reply(ctx, userID, b.String())
	return nil
}

func (c *Commands) setBanned(ctx context.Context, userID int64, args []string, banned bool) error {
	usage := "Usage: /ban <user_id>"
	if !banned {
		usage = "Usage: /unban <user_id>"
	}
	if len(args) != 1 {
		c.reply(ctx, userID, usage)
		return nil
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		c.reply(ctx, userID, "User ID must be a number.")
		return nil
	}
	if err := c.store.SetBanned(target, banned); err != nil {
		return fmt.Errorf("updating ban flag: %w", err)
	}
	if banned {
		c.reply(ctx, userID, fmt.Sprintf("User %d banned.", target))
	} else {
		c.reply(ctx, userID, fmt.Sprintf("User %d unbanned.", target))
	}
	return nil
}

func (c *Commands) stats(ctx context.Context, userID int64) error {
	users, err := c.store.CountUsers()
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}

	now := c.clock.Now()
	today, err := c.store.Counter(gate.CounterDay(now), gate.CounterVerifications)
	if err != nil {
		return fmt.Errorf("reading today's counter: %w", err)
	}
	yesterday, err := c.store.Counter(gate.CounterDay(now.AddDate(0, 0, -1)), gate.CounterVerifications)
	if err != nil {
		return fmt.Errorf("reading yesterday's counter: %w", err)
	}

	c.reply(ctx, userID, fmt.Sprintf(
		"Users: %d\nVerifications today: %d\nVerifications yesterday: %d",
		users, today, yesterday))
	return nil
}

func (c *Commands) cleanup(ctx context.Context, userID int64) error {
	if userID != c.cfg.Bot.Owner {
		c.reply(ctx, userID, "Only the owner can run /cleanup.")
		return nil
	}
	removed, err := c.entitlements.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweeping entitlements: %w", err)
	}
	c.reply(ctx, userID, fmt.Sprintf("Removed %d expired entitlement(s).", removed))
	return nil
}

func (c *Commands) reply(ctx context.Context, userID int64, text string) {
	if _, err := c.client.SendMessage(ctx, userID, text, nil); err != nil {
		c.logger.Warn("sending admin reply failed", "user", userID, "err", err)
	}
}
