package transport

import (
	"errors"

	"github.com/sebastianm/vplink/internal/transport/fdio"
)

var (
	// ErrSetupTimeout means the simulator did not announce readiness before
	// the setup deadline. The session is torn down.
	ErrSetupTimeout = errors.New("transport: simulator setup timeout")

	// ErrIOTimeout means a single read or write had nothing ready in time.
	// The session stays usable.
	ErrIOTimeout = fdio.ErrIOTimeout

	// ErrChannelClosed means the simulator closed its end of the channel.
	ErrChannelClosed = fdio.ErrChannelClosed

	// ErrNotOpen is returned by Read and Write outside the ready state.
	ErrNotOpen = errors.New("transport not open")

	// ErrLaunchFailure means the simulator could not be started or its
	// configuration is incomplete.
	ErrLaunchFailure = errors.New("transport: simulator launch failed")

	// ErrBuildFailed is returned during setup when the simulator reports a
	// failed make recipe and failing fast is enabled.
	ErrBuildFailed = errors.New("transport: simulator build failed")

	// ErrAlreadyOpen is returned when Open is called on a session that has
	// already been opened.
	ErrAlreadyOpen = errors.New("transport: session already opened")
)
