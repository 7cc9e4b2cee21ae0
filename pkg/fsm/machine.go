// Package fsm implements the build pipeline workflow. It normalizes and
// encodes the fuse table, packages the flash images and publishes the
// results, recording every artifact in the ledger, using the
// superfly/fsm library.
package fsm

import (
	"context"

	"github.com/superfly/fsm"
	"github.com/ws63-tools/fwpack/pkg/errors"
)

// Register registers the build pipeline FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[BuildRequest, BuildResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[BuildRequest, BuildResponse](manager, "fwpack-build").
		Start(StateCheckInputs, m.handleCheckInputs).
		To(StateEfuse, m.handleEfuse).
		To(StatePackage, m.handlePackage).
		To(StatePublish, m.handlePublish).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
