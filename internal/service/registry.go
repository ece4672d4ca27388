package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	apperrors "github.com/breqdev/portal-bridge-go/internal/errors"
	"github.com/breqdev/portal-bridge-go/internal/model"
	"github.com/breqdev/portal-bridge-go/internal/store"
	"github.com/breqdev/portal-bridge-go/internal/util"
)

const (
	defaultPortalName = "A New Portal"
	defaultPortalDesc = "An unconfigured portal"
)

// Key layout, all under the portal: prefix:
//
//	portal:{id}                    hash   portal record
//	portal:list                    set    all portal ids
//	portal:from_owner:{owner}      set    ids owned by one caller
//	portal:guilds:{id}             set    guilds a portal is attached to
//	portal:list:{guild}            set    ids attached to one guild
//	portal:from_name:{guild}:{a}   scalar alias -> id
//	portal:from_id:{guild}:{id}    scalar id -> alias
func portalKey(id string) string          { return "portal:" + id }
func ownerKey(owner string) string        { return "portal:from_owner:" + owner }
func portalGuildsKey(id string) string    { return "portal:guilds:" + id }
func guildListKey(guild string) string    { return "portal:list:" + guild }
func aliasKey(guild, alias string) string { return "portal:from_name:" + guild + ":" + alias }
func aliasOfKey(guild, id string) string  { return "portal:from_id:" + guild + ":" + id }

const portalListKey = "portal:list"

// Registry owns portal records and their guild alias cross-indexes.
type Registry struct {
	store store.Store
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// Get loads a portal by id. When owner is non-empty the stored owner must
// match, otherwise the lookup fails with PermissionDenied before anything
// else happens.
func (r *Registry) Get(ctx context.Context, id, owner string) (*model.Portal, error) {
	fields, err := r.store.HGetAll(ctx, portalKey(id))
	if err != nil {
		return nil, fmt.Errorf("load portal %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, apperrors.NotFound("Portal")
	}

	portal := model.PortalFromFields(fields)
	if owner != "" && portal.OwnerID != owner {
		return nil, apperrors.PermissionDenied(fmt.Sprintf("You do not own the portal %s", id))
	}
	return portal, nil
}

// Put upserts the record and (re)inserts it into the global and per-owner
// index sets. Safe to call repeatedly with the same id.
func (r *Registry) Put(ctx context.Context, portal *model.Portal) error {
	if err := r.store.HSet(ctx, portalKey(portal.ID), portal.Fields()); err != nil {
		return fmt.Errorf("store portal %s: %w", portal.ID, err)
	}
	if err := r.store.SAdd(ctx, portalListKey, portal.ID); err != nil {
		return fmt.Errorf("index portal %s: %w", portal.ID, err)
	}
	if err := r.store.SAdd(ctx, ownerKey(portal.OwnerID), portal.ID); err != nil {
		return fmt.Errorf("index portal %s by owner: %w", portal.ID, err)
	}
	return nil
}

// Create registers a fresh portal for owner and returns it, token included.
func (r *Registry) Create(ctx context.Context, owner string) (*model.Portal, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate portal token: %w", err)
	}

	portal := &model.Portal{
		ID:          util.NewID(),
		Name:        defaultPortalName,
		Description: defaultPortalDesc,
		Price:       0,
		OwnerID:     owner,
		Token:       token,
		Status:      model.StatusDisconnected,
	}
	if err := r.Put(ctx, portal); err != nil {
		return nil, err
	}

	log.Info().Str("portalId", portal.ID).Str("owner", owner).Msg("portal created")
	return portal, nil
}

// Retoken replaces the portal's secret, invalidating the previous one.
func (r *Registry) Retoken(ctx context.Context, id, owner string) (*model.Portal, error) {
	portal, err := r.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate portal token: %w", err)
	}
	portal.Token = token

	if err := r.Put(ctx, portal); err != nil {
		return nil, err
	}

	log.Info().Str("portalId", id).Msg("portal token regenerated")
	return portal, nil
}

// SetField mutates one of the owner-editable fields: name, desc, or price.
func (r *Registry) SetField(ctx context.Context, id, owner, field, value string) (*model.Portal, error) {
	portal, err := r.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	switch field {
	case "name":
		portal.Name = value
	case "desc":
		portal.Description = value
	case "price":
		price, err := strconv.ParseInt(value, 10, 64)
		if err != nil || price < 0 {
			return nil, apperrors.InvalidInput("price", "must be a non-negative integer")
		}
		portal.Price = price
	default:
		return nil, apperrors.InvalidField(field)
	}

	if err := r.Put(ctx, portal); err != nil {
		return nil, err
	}
	return portal, nil
}

// SetStatus records the connection state pushed by the portal client.
func (r *Registry) SetStatus(ctx context.Context, id string, status model.Status) error {
	if !status.Valid() {
		return apperrors.InvalidInput("status", "must be 0, 1, or 2")
	}
	if _, err := r.Get(ctx, id, ""); err != nil {
		return err
	}
	return r.store.HSet(ctx, portalKey(id), map[string]string{
		"status": strconv.Itoa(int(status)),
	})
}

// Authenticate loads a portal and checks the client token against the stored
// secret.
func (r *Registry) Authenticate(ctx context.Context, id, token string) (*model.Portal, error) {
	portal, err := r.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if !util.ConstantTimeEqual(portal.Token, token) {
		return nil, apperrors.Unauthorized("Invalid portal token")
	}
	return portal, nil
}

// ResolveAlias maps a guild-scoped alias to a portal id. An alias left behind
// by a deleted portal is purged on the way through and reported as NotFound.
func (r *Registry) ResolveAlias(ctx context.Context, guildID, alias string) (string, error) {
	id, err := r.store.Get(ctx, aliasKey(guildID, alias))
	if err != nil {
		return "", fmt.Errorf("resolve alias %s: %w", alias, err)
	}
	if id == "" {
		return "", apperrors.NotFound("Portal")
	}

	exists, err := r.store.Exists(ctx, portalKey(id))
	if err != nil {
		return "", fmt.Errorf("check portal %s: %w", id, err)
	}
	if !exists {
		// Stale alias: the portal it pointed at is gone.
		if err := r.store.Del(ctx, aliasKey(guildID, alias)); err != nil {
			return "", fmt.Errorf("purge stale alias %s: %w", alias, err)
		}
		log.Debug().Str("guildId", guildID).Str("alias", alias).Msg("purged stale alias")
		return "", apperrors.NotFound("Portal")
	}

	return id, nil
}

// aliasAvailable reports whether an alias slot is free in a guild, purging a
// stale mapping if one is squatting on it.
func (r *Registry) aliasAvailable(ctx context.Context, guildID, alias string) (bool, error) {
	existing, err := r.store.Get(ctx, aliasKey(guildID, alias))
	if err != nil {
		return false, err
	}
	if existing == "" {
		return true, nil
	}

	exists, err := r.store.Exists(ctx, portalKey(existing))
	if err != nil {
		return false, err
	}
	if !exists {
		if err := r.store.Del(ctx, aliasKey(guildID, alias)); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// AddToGuild attaches a portal to a guild under an alias, writing all four
// cross-index entries.
func (r *Registry) AddToGuild(ctx context.Context, id, guildID, alias string) error {
	free, err := r.aliasAvailable(ctx, guildID, alias)
	if err != nil {
		return fmt.Errorf("check alias %s: %w", alias, err)
	}
	if !free {
		return apperrors.Conflict(fmt.Sprintf("A portal with the name %s already exists here", alias))
	}

	member, err := r.store.SIsMember(ctx, guildListKey(guildID), id)
	if err != nil {
		return fmt.Errorf("check guild membership: %w", err)
	}
	if member {
		return apperrors.Conflict("That portal is already in this server")
	}

	if err := r.store.SAdd(ctx, guildListKey(guildID), id); err != nil {
		return fmt.Errorf("add portal to guild list: %w", err)
	}
	if err := r.store.SAdd(ctx, portalGuildsKey(id), guildID); err != nil {
		return fmt.Errorf("add guild to portal list: %w", err)
	}
	if err := r.store.Set(ctx, aliasKey(guildID, alias), id); err != nil {
		return fmt.Errorf("store alias: %w", err)
	}
	if err := r.store.Set(ctx, aliasOfKey(guildID, id), alias); err != nil {
		return fmt.Errorf("store reverse alias: %w", err)
	}

	log.Info().Str("portalId", id).Str("guildId", guildID).Str("alias", alias).Msg("portal added to guild")
	return nil
}

// RemoveFromGuild detaches a portal from a guild, deleting all four
// cross-index entries. Removing an absent association is a no-op.
func (r *Registry) RemoveFromGuild(ctx context.Context, id, guildID string) error {
	alias, err := r.store.Get(ctx, aliasOfKey(guildID, id))
	if err != nil {
		return fmt.Errorf("look up alias for portal %s: %w", id, err)
	}

	if err := r.store.SRem(ctx, guildListKey(guildID), id); err != nil {
		return fmt.Errorf("remove portal from guild list: %w", err)
	}
	if err := r.store.SRem(ctx, portalGuildsKey(id), guildID); err != nil {
		return fmt.Errorf("remove guild from portal list: %w", err)
	}
	if alias != "" {
		if err := r.store.Del(ctx, aliasKey(guildID, alias)); err != nil {
			return fmt.Errorf("delete alias: %w", err)
		}
	}
	if err := r.store.Del(ctx, aliasOfKey(guildID, id)); err != nil {
		return fmt.Errorf("delete reverse alias: %w", err)
	}
	return nil
}

// Delete removes a portal and cascades through every guild it was added to.
// Only the owner may delete.
func (r *Registry) Delete(ctx context.Context, id, owner string) error {
	portal, err := r.Get(ctx, id, owner)
	if err != nil {
		return err
	}

	guilds, err := r.store.SMembers(ctx, portalGuildsKey(id))
	if err != nil {
		return fmt.Errorf("list portal guilds: %w", err)
	}
	for _, guildID := range guilds {
		if err := r.RemoveFromGuild(ctx, id, guildID); err != nil {
			return err
		}
	}

	if err := r.store.SRem(ctx, portalListKey, id); err != nil {
		return fmt.Errorf("unindex portal: %w", err)
	}
	if err := r.store.SRem(ctx, ownerKey(portal.OwnerID), id); err != nil {
		return fmt.Errorf("unindex portal by owner: %w", err)
	}
	if err := r.store.Del(ctx, portalKey(id)); err != nil {
		return fmt.Errorf("delete portal record: %w", err)
	}

	log.Info().Str("portalId", id).Int("guilds", len(guilds)).Msg("portal deleted")
	return nil
}

// ListByOwner returns every portal registered by one caller.
func (r *Registry) ListByOwner(ctx context.Context, owner string) ([]*model.Portal, error) {
	ids, err := r.store.SMembers(ctx, ownerKey(owner))
	if err != nil {
		return nil, fmt.Errorf("list portals by owner: %w", err)
	}

	portals := make([]*model.Portal, 0, len(ids))
	for _, id := range ids {
		portal, err := r.Get(ctx, id, "")
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
				continue
			}
			return nil, err
		}
		portals = append(portals, portal)
	}
	return portals, nil
}

// ListByGuild returns every portal attached to a guild, each annotated with
// its guild-local alias.
func (r *Registry) ListByGuild(ctx context.Context, guildID string) ([]*model.GuildPortal, error) {
	ids, err := r.store.SMembers(ctx, guildListKey(guildID))
	if err != nil {
		return nil, fmt.Errorf("list portals by guild: %w", err)
	}

	portals := make([]*model.GuildPortal, 0, len(ids))
	for _, id := range ids {
		portal, err := r.Get(ctx, id, "")
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
				continue
			}
			return nil, err
		}
		alias, err := r.store.Get(ctx, aliasOfKey(guildID, id))
		if err != nil {
			return nil, fmt.Errorf("look up alias for portal %s: %w", id, err)
		}
		portals = append(portals, &model.GuildPortal{Portal: *portal, Alias: alias})
	}
	return portals, nil
}

// GuildsOf returns the guild ids a portal is attached to, owner-only.
func (r *Registry) GuildsOf(ctx context.Context, id, owner string) ([]string, error) {
	if _, err := r.Get(ctx, id, owner); err != nil {
		return nil, err
	}
	return r.store.SMembers(ctx, portalGuildsKey(id))
}
