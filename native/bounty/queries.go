package bounty

import "fmt"

// Get returns a copy of the bounty stored under id.
func (r *Registry) Get(id uint64) (*Bounty, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	b, ok, err := r.state.BountyGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return b.Clone(), nil
}

// Count returns the current counter value, zero before initialisation.
func (r *Registry) Count() (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	count, _, err := r.state.BountyCounter()
	if err != nil {
		return 0, err
	}
	return count, nil
}

// All returns every stored bounty from 1 to the counter in ascending id order.
func (r *Registry) All() ([]*Bounty, error) {
	return r.filter(func(*Bounty) bool { return true })
}

// Open returns the bounties that are Open and whose deadline is strictly in
// the future.
func (r *Registry) Open() ([]*Bounty, error) {
	now := r.now()
	return r.filter(func(b *Bounty) bool {
		return b.Status == StatusOpen && b.Deadline > now
	})
}

// ByCreator returns the bounties created by creator in ascending id order.
func (r *Registry) ByCreator(creator [20]byte) ([]*Bounty, error) {
	return r.filter(func(b *Bounty) bool { return b.Creator == creator })
}

func (r *Registry) filter(keep func(*Bounty) bool) ([]*Bounty, error) {
	count, err := r.Count()
	if err != nil {
		return nil, err
	}
	out := make([]*Bounty, 0)
	for id := uint64(1); id <= count; id++ {
		b, ok, err := r.state.BountyGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if keep(b) {
			out = append(out, b.Clone())
		}
		if id == ^uint64(0) {
			break
		}
	}
	return out, nil
}
