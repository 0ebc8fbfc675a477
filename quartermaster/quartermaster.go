// Package quartermaster selects credentials for endpoint calls and
// meters them against per-credential rate limits.
package quartermaster

// Passport is a credential set, granted either to everyone (public) or
// to the members of its user set. Key is the opaque credential payload
// handed to request handlers.
type Passport struct {
	ID     string
	Name   string
	Public bool
	Users  map[string]bool
	Key    string
}

// Grants reports whether the passport may be used by the user.
func (p *Passport) Grants(user string) bool {
	return p.Public || p.Users[user]
}

// Visa defines a rate-limit bucket: CallsAllowed calls per
// IntervalSeconds.
type Visa struct {
	ID              string
	CallsAllowed    int
	IntervalSeconds int
}

// Quartermaster authorizes a (credential, rate-limit, endpoint-set)
// triple. Endpoints holds requisition keys ("supplier:api_class").
// A nil Visa means the credential is unmetered.
type Quartermaster struct {
	ID        string
	Passport  *Passport
	Visa      *Visa
	Endpoints map[string]bool
}

// Authorizes reports whether the quartermaster lets user call the
// endpoint.
func (q *Quartermaster) Authorizes(user, endpoint string) bool {
	return q.Endpoints[endpoint] && q.Passport != nil && q.Passport.Grants(user)
}
