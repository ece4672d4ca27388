package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Field is a labelled value attached to a Reply.
type Field struct {
	Name   string
	Value  string
	Secret bool
}

// Reply is the platform-neutral result of a management command. The front
// end decides how to render it: Private replies go to the caller directly,
// Ack replies only need a lightweight acknowledgement.
type Reply struct {
	Title       string
	Description string
	Fields      []Field
	Private     bool
	Ack         bool
}

// Commands implements the portal management surface. Each method validates,
// performs its registry operations, and returns a structured reply or a
// typed failure; rendering belongs to the caller.
type Commands struct {
	registry *Registry
}

func NewCommands(registry *Registry) *Commands {
	return &Commands{registry: registry}
}

// Create registers a new portal and hands the id and secret back privately.
func (c *Commands) Create(ctx context.Context, callerID string) (*Reply, error) {
	portal, err := c.registry.Create(ctx, callerID)
	if err != nil {
		return nil, err
	}

	return &Reply{
		Title:       "Portal",
		Description: "Thank you for registering a portal!",
		Fields: []Field{
			{Name: "Portal ID", Value: portal.ID},
			{Name: "Portal Token (keep this secret!)", Value: portal.Token, Secret: true},
		},
		Private: true,
	}, nil
}

// Retoken regenerates a portal's secret and hands it back privately.
func (c *Commands) Retoken(ctx context.Context, callerID, id string) (*Reply, error) {
	portal, err := c.registry.Retoken(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	return &Reply{
		Title:       "New Portal Token",
		Description: "You requested a new token for your portal.",
		Fields: []Field{
			{Name: "Portal ID", Value: portal.ID},
			{Name: "Portal Token (keep this secret!)", Value: portal.Token, Secret: true},
		},
		Private: true,
	}, nil
}

// Set updates one of name, desc, or price.
func (c *Commands) Set(ctx context.Context, callerID, id, field, value string) (*Reply, error) {
	if _, err := c.registry.SetField(ctx, id, callerID, field, value); err != nil {
		return nil, err
	}
	return &Reply{Ack: true}, nil
}

// Delete removes a portal and all its guild attachments.
func (c *Commands) Delete(ctx context.Context, callerID, id string) (*Reply, error) {
	if err := c.registry.Delete(ctx, id, callerID); err != nil {
		return nil, err
	}
	return &Reply{Ack: true}, nil
}

// Mine lists the caller's registered portals.
func (c *Commands) Mine(ctx context.Context, callerID, callerName string) (*Reply, error) {
	portals, err := c.registry.ListByOwner(ctx, callerID)
	if err != nil {
		return nil, err
	}

	reply := &Reply{Title: fmt.Sprintf("%s's Portals", callerName)}
	if len(portals) == 0 {
		reply.Description = "You haven't registered any portals yet. Try `portal create`."
		return reply, nil
	}

	lines := make([]string, 0, len(portals))
	for _, portal := range portals {
		lines = append(lines, fmt.Sprintf("%s `%s`: %s, %s",
			portal.Status.Marker(), portal.ID, portal.Name, portal.Description))
	}
	sort.Strings(lines)
	reply.Description = strings.Join(lines, "\n")
	return reply, nil
}

// Guilds lists the servers a portal is attached to, owner-only.
func (c *Commands) Guilds(ctx context.Context, callerID, id string) (*Reply, error) {
	guilds, err := c.registry.GuildsOf(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	reply := &Reply{Title: "Connected Guilds"}
	if len(guilds) == 0 {
		reply.Description = "That portal has not been added to any guilds. Try `portal add`."
		return reply, nil
	}

	sort.Strings(guilds)
	lines := make([]string, 0, len(guilds))
	for _, guildID := range guilds {
		lines = append(lines, fmt.Sprintf("`%s`", guildID))
	}
	reply.Description = strings.Join(lines, "\n")
	return reply, nil
}

// Add attaches a portal to a guild under an alias, owner-only.
func (c *Commands) Add(ctx context.Context, callerID, guildID, id, alias string) (*Reply, error) {
	if _, err := c.registry.Get(ctx, id, callerID); err != nil {
		return nil, err
	}
	if err := c.registry.AddToGuild(ctx, id, guildID, alias); err != nil {
		return nil, err
	}
	return &Reply{Ack: true}, nil
}

// Remove detaches the portal behind an alias from a guild, owner-only.
func (c *Commands) Remove(ctx context.Context, callerID, guildID, alias string) (*Reply, error) {
	id, err := c.registry.ResolveAlias(ctx, guildID, alias)
	if err != nil {
		return nil, err
	}
	if _, err := c.registry.Get(ctx, id, callerID); err != nil {
		return nil, err
	}
	if err := c.registry.RemoveFromGuild(ctx, id, guildID); err != nil {
		return nil, err
	}
	return &Reply{Ack: true}, nil
}

// List shows every portal attached to the guild, with alias and price.
func (c *Commands) List(ctx context.Context, guildID string) (*Reply, error) {
	portals, err := c.registry.ListByGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	reply := &Reply{Title: "Connected Portals"}
	if len(portals) == 0 {
		reply.Description = "There are no portals currently connected here. Try `portal add`."
		return reply, nil
	}

	lines := make([]string, 0, len(portals))
	for _, portal := range portals {
		price := "*(free)*"
		if portal.Price > 0 {
			price = fmt.Sprintf("*(%d coins)*", portal.Price)
		}
		lines = append(lines, fmt.Sprintf("%s `%s`: %s, %s %s (%s)",
			portal.Status.Marker(), portal.Alias, portal.Name, portal.Description, price, portal.ID))
	}
	sort.Strings(lines)
	reply.Description = strings.Join(lines, "\n")
	return reply, nil
}
