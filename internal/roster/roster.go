// Package roster holds the static mapping from Discord accounts to the
// people the bridge tracks. A person may control several Discord accounts
// (one primary, any number of alts) and may have a Telegram chat to be
// notified at.
package roster

import (
	"fmt"
	"strings"
)

// AccountID is a Discord account identifier (snowflake, as delivered by the
// gateway).
type AccountID string

// Person is one tracked human. Immutable after construction.
type Person struct {
	Name         string
	PrimaryID    AccountID
	SecondaryIDs []AccountID

	// ChatID is the Telegram chat to notify. Zero means this person is
	// never notified (they can still trigger notifications to others).
	ChatID int64
}

// Notifiable reports whether this person has a destination to deliver to.
func (p *Person) Notifiable() bool { return p.ChatID != 0 }

// HasAccount reports whether id is the person's primary or one of their
// secondary accounts.
func (p *Person) HasAccount(id AccountID) bool {
	if id == p.PrimaryID {
		return true
	}
	for _, s := range p.SecondaryIDs {
		if id == s {
			return true
		}
	}
	return false
}

// Roster is a read-only index of Persons by account id.
type Roster struct {
	people []*Person
	byID   map[AccountID]*Person
}

// New builds a roster from entries. It fails when an entry is missing a name
// or primary id, or when any account id is claimed by more than one person
// (including an id repeated between one entry's secondary list and another
// entry's primary). Rosters are small; all lookups are map hits.
func New(people []Person) (*Roster, error) {
	if len(people) == 0 {
		return nil, fmt.Errorf("roster is empty")
	}
	r := &Roster{
		people: make([]*Person, 0, len(people)),
		byID:   make(map[AccountID]*Person, len(people)*2),
	}
	for i := range people {
		p := people[i]
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("roster[%d]: name is empty", i)
		}
		if strings.TrimSpace(string(p.PrimaryID)) == "" {
			return nil, fmt.Errorf("roster[%d] (%s): primary account id is empty", i, p.Name)
		}
		cp := &Person{
			Name:         p.Name,
			PrimaryID:    p.PrimaryID,
			SecondaryIDs: append([]AccountID(nil), p.SecondaryIDs...),
			ChatID:       p.ChatID,
		}
		if err := r.claim(cp.PrimaryID, cp); err != nil {
			return nil, err
		}
		for _, id := range cp.SecondaryIDs {
			if strings.TrimSpace(string(id)) == "" {
				return nil, fmt.Errorf("roster entry %q: empty secondary account id", p.Name)
			}
			if err := r.claim(id, cp); err != nil {
				return nil, err
			}
		}
		r.people = append(r.people, cp)
	}
	return r, nil
}

func (r *Roster) claim(id AccountID, p *Person) error {
	if prev, ok := r.byID[id]; ok {
		if prev == p {
			return fmt.Errorf("roster entry %q: account id %s listed twice", p.Name, id)
		}
		return fmt.Errorf("account id %s claimed by both %q and %q", id, prev.Name, p.Name)
	}
	r.byID[id] = p
	return nil
}

// Resolve returns the person owning the given account id, if any.
func (r *Roster) Resolve(id AccountID) (*Person, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// SamePerson reports whether candidate belongs to the same person as owner's
// account. Unknown accounts are never the same person.
func (r *Roster) SamePerson(owner, candidate AccountID) bool {
	p, ok := r.byID[owner]
	if !ok {
		return false
	}
	return p.HasAccount(candidate)
}

// People returns the roster entries in configuration order.
func (r *Roster) People() []*Person { return r.people }

// Len returns the number of tracked people.
func (r *Roster) Len() int { return len(r.people) }
