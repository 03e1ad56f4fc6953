package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sebastianm/vplink/internal/transport"
)

// timeoutsJSON is the wire form of transport.Timeouts, in seconds.
type timeoutsJSON struct {
	SessionStartRetryTimeoutSec  float64 `json:"session_start_retry_timeout_sec"`
	SessionStartTimeoutSec       float64 `json:"session_start_timeout_sec"`
	SessionEstablishedTimeoutSec float64 `json:"session_established_timeout_sec"`
}

func toTimeoutsJSON(t transport.Timeouts) timeoutsJSON {
	return timeoutsJSON{
		SessionStartRetryTimeoutSec:  t.SessionStartRetry.Seconds(),
		SessionStartTimeoutSec:       t.SessionStart.Seconds(),
		SessionEstablishedTimeoutSec: t.SessionEstablished.Seconds(),
	}
}

func probeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Open the transport, print the advertised timeouts and close it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.handler()
			if err != nil {
				return err
			}
			defer h.Close()

			timeouts, err := h.OpenTransport(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(toTimeoutsJSON(timeouts))
		},
	}
}
