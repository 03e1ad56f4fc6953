package main

import (
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sebastianm/vplink/internal/device"
	"github.com/sebastianm/vplink/internal/transport"
)

const (
	readChunk    = 4096
	pollInterval = 50 * time.Millisecond
)

func runCmd(load loader) *cobra.Command {
	var drain time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the transport and bridge it to stdin and stdout",
		Long: "Open the transport and copy stdin to the device and device output to stdout. " +
			"After stdin ends, output is forwarded until the device stays quiet for --drain.",
		Args: cobra.NoArgs,
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

			if _, err := h.OpenTransport(cmd.Context()); err != nil {
				return err
			}
			return bridge(h, cmd.InOrStdin(), cmd.OutOrStdout(), drain)
		},
	}
	cmd.Flags().DurationVar(&drain, "drain", 500*time.Millisecond, "How long to keep reading after stdin ends")
	return cmd
}

// bridge pumps bytes between the device and in/out on one goroutine, since
// the session serialises reads and writes anyway.
func bridge(h *device.Handler, in io.Reader, out io.Writer, drain time.Duration) error {
	chunks := make(chan []byte)
	done := make(chan struct{})
	defer close(done)
	go pumpInput(in, chunks, done)

	var idleSince time.Time
	inputDone := false
	for {
		if !inputDone {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					inputDone = true
					idleSince = time.Now()
					break
				}
				if _, err := h.WriteTransport(chunk, transport.NoTimeout); err != nil {
					if errors.Is(err, transport.ErrChannelClosed) {
						return nil
					}
					return err
				}
				continue
			default:
			}
		}

		data, err := h.ReadTransport(readChunk, pollInterval)
		switch {
		case errors.Is(err, transport.ErrIOTimeout):
			if inputDone && time.Since(idleSince) >= drain {
				return nil
			}
			continue
		case errors.Is(err, transport.ErrChannelClosed):
			return nil
		case err != nil:
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		idleSince = time.Now()
	}
}

// pumpInput forwards reads from in to chunks until in fails or done is
// closed. chunks is closed on return.
func pumpInput(in io.Reader, chunks chan<- []byte, done <-chan struct{}) {
	defer close(chunks)
	buf := make([]byte, readChunk)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			select {
			case chunks <- append([]byte(nil), buf[:n]...):
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}
