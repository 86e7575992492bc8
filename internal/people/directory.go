// Package people resolves pusher and committer strings to persons.
package people

import (
	"net/mail"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/onexay/pushwatch/internal/types"
)

const defaultCacheSize = 1024

// Directory maps raw identity strings ("Name <email>" or a bare email) to
// persons. Strings that match no known person resolve to a placeholder
// built from the string itself. Safe for concurrent use.
type Directory struct {
	known map[string]types.Person
	cache *lru.Cache[string, types.Person]
}

// NewDirectory builds a directory over the given known persons. size bounds
// the resolution cache; zero picks a default.
func NewDirectory(known []types.Person, size int) (*Directory, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, types.Person](size)
	if err != nil {
		return nil, err
	}
	d := &Directory{known: make(map[string]types.Person, len(known)), cache: cache}
	for _, p := range known {
		if p.Email == "" {
			continue
		}
		p.Placeholder = false
		d.known[strings.ToLower(p.Email)] = p
	}
	return d, nil
}

// PersonForPusher resolves the user that submitted a push.
func (d *Directory) PersonForPusher(raw string) types.Person {
	return d.resolve(raw)
}

// PersonForCommitter resolves the author of a changeset.
func (d *Directory) PersonForCommitter(raw string) types.Person {
	return d.resolve(raw)
}

func (d *Directory) resolve(raw string) types.Person {
	raw = strings.TrimSpace(raw)
	if p, ok := d.cache.Get(raw); ok {
		return p
	}
	p := d.lookup(raw)
	d.cache.Add(raw, p)
	return p
}

func (d *Directory) lookup(raw string) types.Person {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return types.Person{Name: raw, Placeholder: true}
	}
	if p, ok := d.known[strings.ToLower(addr.Address)]; ok {
		return p
	}
	name := addr.Name
	if name == "" {
		name = addr.Address
	}
	return types.Person{Name: name, Email: addr.Address, Placeholder: true}
}
