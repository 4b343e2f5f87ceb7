package aggregate

// Role is an implicit aggregate: it exists while some Active agreement names
// the entity under that role. There is no standalone Role record to mutate;
// the repository derives this view from agreement state.
type Role struct {
	EntityID  string   `json:"entityId"`
	Name      string   `json:"name"`
	GrantedBy []string `json:"grantedBy"` // agreement ids naming the entity under the role
	Active    bool     `json:"active"`
}

// DeriveRole computes the role view of entityID named roleName across the
// given agreements. Only Active agreements contribute.
func DeriveRole(entityID, roleName string, agreements []*Agreement) *Role {
	r := &Role{EntityID: entityID, Name: roleName}
	for _, a := range agreements {
		if a.Status != StatusActive {
			continue
		}
		p := a.Party(entityID)
		if p != nil && p.Role == roleName {
			r.GrantedBy = append(r.GrantedBy, a.ID)
		}
	}
	r.Active = len(r.GrantedBy) > 0
	return r
}
