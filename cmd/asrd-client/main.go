// asrd-client streams a raw PCM file to an asrd server and prints every
// hypothesis it gets back. The file must contain little-endian float32
// samples at the server's sample rate, mono.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "asrd-client <samples.raw>",
		Short:         "Stream a raw float32 PCM file to an asrd server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL, _ := cmd.Flags().GetString("server")
			chunkSamples, _ := cmd.Flags().GetInt("chunk-samples")
			interval, _ := cmd.Flags().GetDuration("interval")
			return stream(serverURL, args[0], chunkSamples, interval)
		},
	}
	root.Flags().String("server", "ws://localhost:6006", "Server websocket URL")
	root.Flags().Int("chunk-samples", 1600, "Samples per binary frame")
	root.Flags().Duration("interval", 100*time.Millisecond, "Delay between frames (simulates real-time capture)")
	return root
}

func stream(serverURL, path string, chunkSamples int, interval time.Duration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data)%4 != 0 {
		return fmt.Errorf("%s: size %d is not a multiple of 4 (expected raw float32 samples)", path, len(data))
	}
	if chunkSamples < 1 {
		chunkSamples = 1600
	}

	c, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverURL, err)
	}
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			fmt.Println(string(msg))
			if string(msg) == "Done" {
				done <- nil
				return
			}
		}
	}()

	chunkBytes := chunkSamples * 4
	for off := 0; off < len(data); off += chunkBytes {
		end := off + chunkBytes
		if end > len(data) {
			end = len(data)
		}
		if err := c.WriteMessage(websocket.BinaryMessage, data[off:end]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		time.Sleep(interval)
	}
	if err := c.WriteMessage(websocket.TextMessage, []byte("Done")); err != nil {
		return fmt.Errorf("send Done: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for final Done")
	}
}
