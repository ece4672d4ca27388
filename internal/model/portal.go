package model

import "strconv"

// Status is the connection state reported by the external portal client.
// The bridge itself never changes it.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnectedNotReady
	StatusConnectedReady
)

// ParseStatus reads the stored status field; anything unrecognized reads as
// disconnected.
func ParseStatus(raw string) Status {
	n, err := strconv.Atoi(raw)
	if err != nil || n < int(StatusDisconnected) || n > int(StatusConnectedReady) {
		return StatusDisconnected
	}
	return Status(n)
}

func (s Status) String() string {
	switch s {
	case StatusConnectedNotReady:
		return "connected_not_ready"
	case StatusConnectedReady:
		return "connected_ready"
	default:
		return "disconnected"
	}
}

// Marker is the short symbol shown next to a portal in listings.
func (s Status) Marker() string {
	switch s {
	case StatusConnectedNotReady:
		return ":orange_circle:"
	case StatusConnectedReady:
		return ":green_circle:"
	default:
		return ":x:"
	}
}

// Valid reports whether s is one of the three defined states.
func (s Status) Valid() bool {
	return s >= StatusDisconnected && s <= StatusConnectedReady
}

// Portal is a registered external endpoint. Persisted as a hash keyed by ID;
// the field names below are the stored hash field names.
type Portal struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	OwnerID     string `json:"ownerId"`
	Token       string `json:"-"`
	Status      Status `json:"status"`
}

// Fields returns the hash representation of the portal.
func (p *Portal) Fields() map[string]string {
	return map[string]string{
		"id":     p.ID,
		"name":   p.Name,
		"desc":   p.Description,
		"price":  strconv.FormatInt(p.Price, 10),
		"owner":  p.OwnerID,
		"token":  p.Token,
		"status": strconv.Itoa(int(p.Status)),
	}
}

// PortalFromFields rebuilds a portal from its stored hash. A missing or
// malformed price reads as 0.
func PortalFromFields(fields map[string]string) *Portal {
	price, err := strconv.ParseInt(fields["price"], 10, 64)
	if err != nil || price < 0 {
		price = 0
	}
	return &Portal{
		ID:          fields["id"],
		Name:        fields["name"],
		Description: fields["desc"],
		Price:       price,
		OwnerID:     fields["owner"],
		Token:       fields["token"],
		Status:      ParseStatus(fields["status"]),
	}
}

// GuildPortal is a portal annotated with its alias in one guild.
type GuildPortal struct {
	Portal
	Alias string `json:"alias"`
}
