package router

// Access is the permission a route requires.
type Access int

const (
	// AccessAllowed: any user on the allow-list.
	AccessAllowed Access = iota
	// AccessAdmin: allow-listed admins only.
	AccessAdmin
)

// ACL is an immutable allow-list snapshot. An empty allow-list denies everyone.
type ACL struct {
	allowed map[int64]struct{}
	admins  map[int64]struct{}
}

func NewACL(allowed, admins []int64) ACL {
	a := ACL{allowed: make(map[int64]struct{}, len(allowed)), admins: make(map[int64]struct{}, len(admins))}
	for _, id := range allowed {
		a.allowed[id] = struct{}{}
	}
	for _, id := range admins {
		// Admins are implicitly allowed.
		a.allowed[id] = struct{}{}
		a.admins[id] = struct{}{}
	}
	return a
}

func (a ACL) Allowed(id int64) bool {
	_, ok := a.allowed[id]
	return ok
}

func (a ACL) Admin(id int64) bool {
	_, ok := a.admins[id]
	return ok
}

func (a ACL) Empty() bool { return len(a.allowed) == 0 }
