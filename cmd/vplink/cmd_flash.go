package main

import (
	"github.com/spf13/cobra"

	"github.com/sebastianm/vplink/internal/device"
)

func flashCmd(load loader) *cobra.Command {
	var skip bool
	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Run the simulation once until it prints its end marker",
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

			opts := device.FlashOptions{
				Skip:    a.cfg.Flash.Skip || skip,
				Timeout: a.cfg.Flash.Timeout,
			}
			_, err = h.Flash(cmd.Context(), opts)
			return err
		},
	}
	cmd.Flags().BoolVar(&skip, "skip", false, "Do nothing; the simulator is started when the transport opens")
	return cmd
}
