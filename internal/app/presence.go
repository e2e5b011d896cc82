package app

import (
	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

type PresencePayload struct {
	UserID domain.UserID `json:"userId"`
	Online bool          `json:"online"`
}

// Presence broadcasts online/offline transitions to every live connection.
// It keeps no state of its own.
type Presence struct {
	reg *Registry
}

func NewPresence(reg *Registry) *Presence {
	return &Presence{reg: reg}
}

// OnChange matches PresenceFunc so it can be installed on the registry.
func (p *Presence) OnChange(userID domain.UserID, online bool) {
	f, err := core.Encode(domain.EventPresence, PresencePayload{UserID: userID, Online: online})
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("encode presence")
		return
	}
	res := p.reg.Broadcast(f)
	log.Debug().Str("module", "app.presence").Str("user", string(userID)).Bool("online", online).Int("sent_to", res.SentTo).Msg("presence broadcast")
}

// Snapshot lists users with a live connection, for cold loads.
func (p *Presence) Snapshot() []domain.UserID {
	return p.reg.OnlineUsers()
}
