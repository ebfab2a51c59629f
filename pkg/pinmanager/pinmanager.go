/*
Package pinmanager pins and unpins published roots.

A pin is only reported as successful once the store lists it; an accepted pin request alone
does not count. Unpinning is not checked again after the store accepts it.
*/
package pinmanager

import (
	"context"
	"fmt"

	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("dirpin/pinmanager")

// PinStore is the pin surface of a dirpin.Store
type PinStore interface {
	PinAdd(ctx context.Context, c cid.Cid) error
	PinLs(ctx context.Context) ([]cid.Cid, error)
	PinRm(ctx context.Context, c cid.Cid) error
}

var _ PinStore = (dirpin.Store)(nil)

type Manager struct {
	store PinStore
}

func New(store PinStore) *Manager {
	return &Manager{store: store}
}

// Pin asks the store to pin c and its closure, then confirms c is among the listed pins
func (m *Manager) Pin(ctx context.Context, c cid.Cid) (dirpin.PinRecord, error) {
	if err := m.store.PinAdd(ctx, c); err != nil {
		return dirpin.PinRecord{}, dirpin.ErrPinVerification{Cid: c, Cause: fmt.Errorf("requesting pin: %w", err)}
	}
	pinned, err := m.Pinned(ctx, c)
	if err != nil {
		return dirpin.PinRecord{}, dirpin.ErrPinVerification{Cid: c, Cause: err}
	}
	if !pinned {
		return dirpin.PinRecord{}, dirpin.ErrPinVerification{Cid: c}
	}
	log.Debugw("pin confirmed", "cid", c)
	return dirpin.PinRecord{Cid: c}, nil
}

// Unpin removes the pin on c
func (m *Manager) Unpin(ctx context.Context, c cid.Cid) error {
	if err := m.store.PinRm(ctx, c); err != nil {
		return dirpin.ErrUnpin{Cid: c, Cause: err}
	}
	log.Debugw("unpinned", "cid", c)
	return nil
}

// Pinned reports whether c is in the store's pin listing
func (m *Manager) Pinned(ctx context.Context, c cid.Cid) (bool, error) {
	pins, err := m.store.PinLs(ctx)
	if err != nil {
		return false, fmt.Errorf("listing pins: %w", err)
	}
	for _, pin := range pins {
		if pin.Equals(c) {
			return true, nil
		}
	}
	return false, nil
}
