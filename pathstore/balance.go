package pathstore

import "math"

// GetBalance returns the balance at path, or 0 if unset.
func (s *Store) GetBalance(path string) (uint64, error) {
	v, ok := s.Get(path)
	if !ok {
		return 0, nil
	}
	if v.Type != TypeBalance {
		return 0, ErrTypeMismatch
	}
	return v.Balance, nil
}

// AddBalance adds amount to the balance at path (checked overflow).
func (s *Store) AddBalance(path string, amount uint64) (uint64, error) {
	cur, err := s.GetBalance(path)
	if err != nil {
		return 0, err
	}
	if amount > math.MaxUint64-cur {
		return 0, ErrBalanceOverflow
	}
	next := cur + amount
	if err := s.Set(path, BalanceValue(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// SubtractBalance subtracts amount from the balance at path (checked
// underflow; balances never go negative, spec.md §3.1 invariant ii).
func (s *Store) SubtractBalance(path string, amount uint64) (uint64, error) {
	cur, err := s.GetBalance(path)
	if err != nil {
		return 0, err
	}
	if amount > cur {
		return 0, ErrBalanceUnderflow
	}
	next := cur - amount
	if err := s.Set(path, BalanceValue(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// TransferBalance moves amount from the balance at `from` to the balance
// at `to`, atomically with respect to this Store's callers (both checks
// happen before either mutation).
func (s *Store) TransferBalance(from, to string, amount uint64) error {
	fromBal, err := s.GetBalance(from)
	if err != nil {
		return err
	}
	if amount > fromBal {
		return ErrBalanceUnderflow
	}
	toBal, err := s.GetBalance(to)
	if err != nil {
		return err
	}
	if amount > math.MaxUint64-toBal {
		return ErrBalanceOverflow
	}
	if err := s.Set(from, BalanceValue(fromBal-amount)); err != nil {
		return err
	}
	if err := s.Set(to, BalanceValue(toBal+amount)); err != nil {
		return err
	}
	return nil
}
