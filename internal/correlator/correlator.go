// Package correlator decides, for each voice-state transition, whether it is
// a genuine arrival and who should hear about it.
//
// Evaluate is a pure function of (roster, transition, snapshot). It returns
// notification intents, not message text; name lookups and delivery belong
// to the bridge so that a failed lookup can abort a single notification
// without affecting the rest of the batch.
package correlator

import "voicebridge/internal/roster"

// VoiceObservation is the previously known voice state of an account.
type VoiceObservation struct {
	GuildID   string
	ChannelID string
}

// VoiceTransition is one voice-state change for one account.
type VoiceTransition struct {
	AccountID roster.AccountID
	GuildID   string

	// Previous is nil when the account was not observed in voice before
	// (first observation, or join-from-nothing).
	Previous *VoiceObservation

	// ChannelID is the channel joined. Empty means the account left voice
	// entirely.
	ChannelID string

	SelfDeaf bool
}

// Presence is one connected account in a guild voice snapshot.
type Presence struct {
	ChannelID string
	SelfDeaf  bool
}

// Snapshot is the set of currently connected accounts in one guild, read
// from the gateway's cached state at the moment a transition is processed.
// It already includes the arriving account (post-arrival view).
type Snapshot map[roster.AccountID]Presence

// Active reports whether the account is connected to a channel and
// listening. Self-deafened accounts count as unavailable.
func (s Snapshot) Active(id roster.AccountID) bool {
	p, ok := s[id]
	return ok && p.ChannelID != "" && !p.SelfDeaf
}

// Decision is the full notification plan for one genuine arrival.
type Decision struct {
	// Person is the roster member who arrived.
	Person *roster.Person
	// Account is the specific account they arrived with.
	Account roster.AccountID
	GuildID string

	// SelfNotify is set when the person should be told they joined with an
	// alt while their primary account is absent from the guild.
	SelfNotify bool

	// Peers are roster members to tell about the arrival: everyone else
	// with a destination who has no account of their own present and
	// listening in the guild.
	Peers []*roster.Person
}

// Evaluate runs the suppression gates against one transition and, if it is a
// genuine arrival, computes the notifications to send. ok is false when any
// gate suppresses the event.
func Evaluate(r *roster.Roster, t VoiceTransition, snap Snapshot) (Decision, bool) {
	// Gate 1: intra-guild channel moves are not arrivals.
	if t.Previous != nil && t.Previous.GuildID == t.GuildID {
		return Decision{}, false
	}
	// Gate 2: only arrivals are notified.
	if t.ChannelID == "" {
		return Decision{}, false
	}
	// Gate 3: unknown accounts are ignored.
	person, ok := r.Resolve(t.AccountID)
	if !ok {
		return Decision{}, false
	}
	// Gate 4: another of the person's own accounts already connected
	// (any channel, deafened or not) masks the arrival.
	for id := range snap {
		if id != t.AccountID && r.SamePerson(t.AccountID, id) {
			return Decision{}, false
		}
	}

	d := Decision{
		Person:  person,
		Account: t.AccountID,
		GuildID: t.GuildID,
	}

	// Self-notify: arrived on an alt while the primary is not in the guild.
	if person.Notifiable() {
		if _, present := snap[person.PrimaryID]; !present {
			d.SelfNotify = true
		}
	}

	// Peer-notify: skip anyone already present and listening themselves.
	for _, other := range r.People() {
		if other.PrimaryID == person.PrimaryID {
			continue
		}
		if !other.Notifiable() {
			continue
		}
		if anyActiveAccount(other, snap) {
			continue
		}
		d.Peers = append(d.Peers, other)
	}

	return d, true
}

func anyActiveAccount(p *roster.Person, snap Snapshot) bool {
	for id := range snap {
		if snap.Active(id) && p.HasAccount(id) {
			return true
		}
	}
	return false
}
